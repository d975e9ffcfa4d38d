// Package poll drives the OpenADR pull model: it periodically asks the VTN
// for pending events and posts back whatever reply the handler produces.
package poll

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/voltgrid/oadr2/go/protocol"
)

const (
	// DefaultInterval is the poll cadence when none is configured.
	DefaultInterval = 300 * time.Second
	// MinInterval is the floor on the cadence. Shorter intervals are a
	// configuration error, not something to clamp silently.
	MinInterval = 10 * time.Second
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 5 * time.Second
)

// eventPath is the EiEvent service below the VTN base URI.
const eventPath = "OpenADR2/Simple/EiEvent"

const contentType = "application/xml"
const userAgent = "oadr2-ven"

// Exchange consumes decoded broadcasts and produces replies. Satisfied by
// *ingest.Handler.
type Exchange interface {
	HandleBroadcast(*protocol.DistributeEvent) *protocol.CreatedEvent
}

// Config locates the VTN and shapes the carrier's cadence and transport.
type Config struct {
	// VTN is the base URI, such as "https://vtn.example.com/".
	VTN string
	// VenID identifies this VEN in request payloads.
	VenID string
	// Profile selects the oadr namespace of requests. Defaults to 2.0a.
	Profile protocol.Profile
	// Interval between polls. Defaults to DefaultInterval and may not be
	// below MinInterval.
	Interval time.Duration
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// ClientCert and ClientKey are PEM file paths enabling mutual TLS.
	ClientCert string
	ClientKey  string
	// CA is a PEM bundle path for verifying the VTN when the system
	// roots do not.
	CA string
}

// Poller posts oadrRequestEvent payloads to the VTN on a jittered cadence
// and routes decoded broadcasts through an Exchange.
type Poller struct {
	cfg      Config
	endpoint string
	client   *http.Client
	exchange Exchange
}

// NewPoller validates |cfg| and builds the HTTP client.
func NewPoller(cfg Config, exchange Exchange) (*Poller, error) {
	if cfg.VTN == "" {
		return nil, fmt.Errorf("a VTN base URI is required")
	}
	if cfg.VenID == "" {
		return nil, fmt.Errorf("a VEN ID is required")
	}
	if cfg.Profile == "" {
		cfg.Profile = protocol.Profile20A
	} else if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < MinInterval {
		return nil, fmt.Errorf("poll interval %s is below the %s minimum", cfg.Interval, MinInterval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var client, err = newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Poller{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(cfg.VTN, "/") + "/" + eventPath,
		client:   client,
		exchange: exchange,
	}, nil
}

func newClient(cfg Config) (*http.Client, error) {
	var transport = http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ClientCert != "" || cfg.CA != "" {
		var tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}

		if cfg.ClientCert != "" {
			var cert, err = tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("loading client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		if cfg.CA != "" {
			var pem, err = os.ReadFile(cfg.CA)
			if err != nil {
				return nil, fmt.Errorf("reading CA bundle: %w", err)
			}
			var pool = x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("CA bundle %s holds no certificates", cfg.CA)
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &http.Client{Transport: transport, Timeout: cfg.Timeout}, nil
}

// Run polls until |ctx| is done. A failed cycle is logged and the cadence
// continues; a broadcast missed this way is recovered on a later poll.
func (p *Poller) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"endpoint": p.endpoint,
		"interval": p.cfg.Interval,
	}).Info("polling VTN for events")

	for {
		if err := p.Exchange(ctx); err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Warn("poll cycle failed")
				pollCounter.WithLabelValues("error").Inc()
			}
		} else {
			pollCounter.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			log.Info("poller exiting")
			return ctx.Err()
		case <-time.After(jitter(p.cfg.Interval)):
		}
	}
}

// Exchange performs one request/reply cycle: request pending events, hand
// the broadcast to the handler, and post back its reply when it has one.
func (p *Poller) Exchange(ctx context.Context) error {
	var request = protocol.NewRequestEvent(p.cfg.Profile, p.cfg.VenID)
	var body, err = request.Marshal()
	if err != nil {
		return err
	}
	log.WithField("requestID", request.RequestID).Debug("requesting pending events")

	data, err := p.post(ctx, body)
	if err != nil {
		return fmt.Errorf("requesting events: %w", err)
	}

	broadcast, err := protocol.ParseDistribute(data)
	if err != nil {
		return fmt.Errorf("decoding VTN response: %w", err)
	}

	var reply = p.exchange.HandleBroadcast(broadcast)
	if reply == nil {
		return nil
	}

	body, err = reply.Marshal()
	if err != nil {
		return err
	}
	if _, err = p.post(ctx, body); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

func (p *Poller) post(ctx context.Context, body []byte) ([]byte, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VTN returned %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, contentType) {
		log.WithField("contentType", ct).Warn("unexpected response content type")
	}
	return data, nil
}

// jitter spreads each cycle within ±10%, so a fleet restarted together does
// not poll in lockstep.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
}
