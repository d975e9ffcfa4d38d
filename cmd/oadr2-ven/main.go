package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/voltgrid/oadr2/go/eventdb"
	"github.com/voltgrid/oadr2/go/ingest"
	"github.com/voltgrid/oadr2/go/poll"
	"github.com/voltgrid/oadr2/go/protocol"
	"github.com/voltgrid/oadr2/go/ven"
)

// Config is the top-level configuration object of the VEN agent.
var Config = new(struct {
	Ven struct {
		ID             string   `long:"id" env:"ID" required:"true" description:"VEN identifier presented to the VTN"`
		VtnIDs         []string `long:"vtn-ids" env:"VTN_IDS" env-delim:"," description:"Accepted VTN identifiers (default: any)"`
		MarketContexts []string `long:"market-contexts" env:"MARKET_CONTEXTS" env-delim:"," description:"Accepted market contexts (default: any)"`
		GroupID        string   `long:"group-id" env:"GROUP_ID" description:"Group membership matched against event targets"`
		ResourceID     string   `long:"resource-id" env:"RESOURCE_ID" description:"Resource membership matched against event targets"`
		PartyID        string   `long:"party-id" env:"PARTY_ID" description:"Party membership matched against event targets"`
		Profile        string   `long:"profile" env:"PROFILE" default:"2.0a" choice:"2.0a" choice:"2.0b" description:"OpenADR profile of requests and replies"`
	} `group:"VEN" namespace:"ven" env-namespace:"VEN"`

	Store struct {
		Path string `long:"path" env:"PATH" description:"SQLite event database path (empty: in-memory only)"`
	} `group:"Event store" namespace:"store" env-namespace:"STORE"`

	Control struct {
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"30s" description:"Control loop evaluation cadence"`
	} `group:"Control" namespace:"control" env-namespace:"CONTROL"`

	Poll struct {
		VTN        string        `long:"vtn" env:"VTN" description:"VTN base URI (empty: polling disabled)"`
		Interval   time.Duration `long:"interval" env:"INTERVAL" default:"300s" description:"VTN poll interval"`
		Timeout    time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"HTTP request timeout"`
		ClientCert string        `long:"client-cert" env:"CLIENT_CERT" description:"PEM client certificate for mutual TLS"`
		ClientKey  string        `long:"client-key" env:"CLIENT_KEY" description:"PEM client key for mutual TLS"`
		CA         string        `long:"ca" env:"CA" description:"PEM CA bundle for verifying the VTN"`
	} `group:"Polling" namespace:"poll" env-namespace:"POLL"`

	Metrics struct {
		Port uint16 `long:"port" env:"PORT" description:"Prometheus metrics port (0: disabled)"`
	} `group:"Metrics" namespace:"metrics" env-namespace:"METRICS"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"text" choice:"json" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	initLog()

	log.WithField("config", Config).Info("ven configuration")

	var store eventdb.Store
	if Config.Store.Path != "" {
		var sqlite, err = eventdb.OpenSQLite(Config.Store.Path)
		must(err, "opening event database")
		defer sqlite.Close()
		store = sqlite
	} else {
		log.Warn("no --store.path given; events will not survive a restart")
		store = eventdb.NewMemory()
	}

	var svc, err = ven.NewService(ven.Config{
		Config: ingest.Config{
			VenID:          Config.Ven.ID,
			VtnIDs:         Config.Ven.VtnIDs,
			MarketContexts: Config.Ven.MarketContexts,
			GroupID:        Config.Ven.GroupID,
			ResourceID:     Config.Ven.ResourceID,
			PartyID:        Config.Ven.PartyID,
			Profile:        protocol.Profile(Config.Ven.Profile),
		},
		ControlInterval: Config.Control.Interval,
	}, store, printSignalChange)
	must(err, "building VEN service")

	svc.Start()
	defer svc.Stop()

	if Config.Metrics.Port != 0 {
		go serveMetrics(Config.Metrics.Port)
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if Config.Poll.VTN == "" {
		log.Warn("no --poll.vtn given; running without a carrier")
		<-ctx.Done()
	} else {
		poller, err := poll.NewPoller(poll.Config{
			VTN:        Config.Poll.VTN,
			VenID:      Config.Ven.ID,
			Profile:    protocol.Profile(Config.Ven.Profile),
			Interval:   Config.Poll.Interval,
			Timeout:    Config.Poll.Timeout,
			ClientCert: Config.Poll.ClientCert,
			ClientKey:  Config.Poll.ClientKey,
			CA:         Config.Poll.CA,
		}, svc.Handler())
		must(err, "building VTN poller")

		_ = poller.Run(ctx)
	}

	log.Info("goodbye")
	return nil
}

// printSignalChange is the default level-change callback: a structured log
// line plus a colorized one for humans running interactively. A rising level
// is a curtailment demand, a falling one is a release.
func printSignalChange(oldLevel, newLevel float64) {
	var rendered = green(newLevel)
	if newLevel > oldLevel {
		rendered = red(newLevel)
	}
	fmt.Printf("signal level %v -> %v\n", oldLevel, rendered)

	log.WithFields(log.Fields{
		"old": oldLevel,
		"new": newLevel,
	}).Info("signal level changed")
}

var green = color.New(color.FgGreen).SprintFunc()
var red = color.New(color.FgRed).SprintFunc()

func serveMetrics(port uint16) {
	var addr = fmt.Sprintf(":%d", port)
	var mux = http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server failed")
	}
}

func initLog() {
	if Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	var lvl, err = log.ParseLevel(Config.Log.Level)
	must(err, "parsing log level")
	log.SetLevel(lvl)
}

// must logs |msg| and exits on a non-nil error.
func must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		fields[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(fields).Fatal(msg)
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	var _, err = parser.AddCommand("serve", "Serve as an OpenADR VEN", `
Run the VEN until signaled to exit (via SIGTERM): poll the VTN for demand
response events, apply them to the event store, and drive the signal level
they imply.
`, &cmdServe{})
	if err != nil {
		log.Fatal(err)
	}

	// Under flags.Default the parser has already printed help or the error.
	if _, err = parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
