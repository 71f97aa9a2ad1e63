// Command datavisd runs the data-acquisition pipeline as a standalone
// daemon, driven by a TOML config file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	"github.com/hxyulin/datavis/server"
)

var cli struct {
	Run         runCmd         `cmd:"" help:"Run the pipeline daemon."`
	PrintConfig printConfigCmd `cmd:"" name:"print-config" help:"Print the default demo config as TOML."`
}

type runCmd struct {
	Config string `short:"c" type:"existingfile" optional:"" help:"Path to the TOML config file. Runs the demo config when omitted."`
}

func (r *runCmd) Run() error {
	var (
		c   *server.Config
		err error
	)
	if r.Config == "" {
		c = server.NewDemoConfig()
	} else {
		c, err = server.LoadConfig(r.Config)
		if err != nil {
			return err
		}
	}

	srv, err := server.New(c)
	if err != nil {
		return err
	}
	if err := srv.Open(); err != nil {
		srv.Close()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Fprintln(os.Stderr, "shutting down")
	return srv.Close()
}

type printConfigCmd struct{}

func (p *printConfigCmd) Run() error {
	return toml.NewEncoder(os.Stdout).Encode(server.NewDemoConfig())
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("datavisd"),
		kong.Description("Embedded-target data acquisition pipeline daemon."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
