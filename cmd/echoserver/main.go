// Command echoserver runs an echo server on a TCP port using the core
// connection lifecycle, optionally exposing its lifecycle counters on a
// second, admin-only port.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/fatih/color"
	multierror "github.com/hashicorp/go-multierror"
	gsyslog "github.com/hashicorp/go-syslog"
	"github.com/mitchellh/cli"
	"github.com/mitchellh/mapstructure"

	"github.com/maxwallstedt/go-maxserver/internal/accept"
	"github.com/maxwallstedt/go-maxserver/internal/adminrpc"
	"github.com/maxwallstedt/go-maxserver/internal/logging"
	"github.com/maxwallstedt/go-maxserver/internal/metrics"
	"github.com/maxwallstedt/go-maxserver/internal/netutil"
	"github.com/maxwallstedt/go-maxserver/internal/quit"
	"github.com/maxwallstedt/go-maxserver/internal/registry"
)

// fileConfig overrides runCommand's flag defaults when loaded from
// -config. Unset fields keep the flag-parsed value.
type fileConfig struct {
	Port      string `mapstructure:"port"`
	AdminPort string `mapstructure:"admin_port"`
	Syslog    bool   `mapstructure:"syslog"`
	Named     bool   `mapstructure:"named"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fc, err
	}
	if err := mapstructure.Decode(generic, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

func main() {
	c := cli.NewCLI("echoserver", "1.0.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) { return &runCommand{}, nil },
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}

type runCommand struct{}

func (c *runCommand) Synopsis() string { return "Run the echo server" }

func (c *runCommand) Help() string {
	return "Usage: echoserver run [-port=4000] [-admin-port=4001] [-syslog] [-named]"
}

func (c *runCommand) Run(args []string) int {
	var port, adminPort, configPath string
	var useSyslog, named bool

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.StringVar(&port, "port", "4000", "echo port")
	flags.StringVar(&adminPort, "admin-port", "4001", "admin stats port")
	flags.BoolVar(&useSyslog, "syslog", false, "log to syslog instead of stderr")
	flags.BoolVar(&named, "named", false, "spawn handlers with a named prefix")
	flags.StringVar(&configPath, "config", "", "optional JSON config file overriding the flags above")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if configPath != "" {
		fc, err := loadFileConfig(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if fc.Port != "" {
			port = fc.Port
		}
		if fc.AdminPort != "" {
			adminPort = fc.AdminPort
		}
		useSyslog = useSyslog || fc.Syslog
		named = named || fc.Named
	}

	logger := buildLogger(useSyslog)
	sink := metrics.New("echoserver")

	ln, err := netutil.Listen(port)
	if err != nil {
		logging.Errorf(logger, "echoserver", "listen", err)
		return 1
	}
	adminLn, err := netutil.Listen(adminPort)
	if err != nil {
		logging.Errorf(logger, "echoserver", "listen-admin", err)
		return 1
	}

	q := quit.New()
	reg := registry.New(q, logger, sink)

	namePrefix := ""
	if named {
		namePrefix = "echo." + port
	}
	acceptor := accept.Start(ln, q, reg, echoHandler, namePrefix, logger, sink)
	admin := adminrpc.Serve(adminLn, sink, reg, logger, q)

	color.Green("echoserver listening on :%s (admin on :%s)", port, adminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		q.Fire()
	case <-q.Done():
	}

	var result *multierror.Error
	if err := acceptor.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := adminLn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	admin.Stop()

	if result.ErrorOrNil() != nil {
		logging.Errorf(logger, "echoserver", "teardown", result)
		return 1
	}
	return 0
}

// echoHandler reads lines from the connection and writes each one back,
// until the peer disconnects or quit fires.
func echoHandler(conn net.Conn, done <-chan struct{}) {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-done:
			conn.Close() // unblocks a pending ReadString
		case <-finished:
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-done:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if _, werr := conn.Write([]byte(line)); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func buildLogger(useSyslog bool) *log.Logger {
	cfg := logging.Config{Prefix: "echoserver: "}
	logger := logging.New(cfg)
	if !useSyslog {
		return logger
	}
	syslogger, err := gsyslog.NewLogger(gsyslog.LOG_NOTICE, "LOCAL0", "echoserver")
	if err != nil {
		logging.Errorf(logger, "echoserver", "syslog", err)
		return logger
	}
	return logging.New(logging.Config{Prefix: "echoserver: ", Writer: syslogger})
}
