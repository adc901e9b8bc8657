// Command echoclient talks to an echoserver: either sending a message (or
// standard input up to end-of-file) and printing the echoed reply, or
// querying its admin stats port.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"

	"github.com/maxwallstedt/go-maxserver/internal/adminrpc"
)

func main() {
	c := cli.NewCLI("echoclient", "1.0.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"echo":  func() (cli.Command, error) { return &echoCommand{}, nil },
		"stats": func() (cli.Command, error) { return &statsCommand{}, nil },
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitStatus)
}

type echoCommand struct{}

func (c *echoCommand) Synopsis() string { return "Echo a message, or stdin until EOF, off the server" }
func (c *echoCommand) Help() string {
	return "Usage: echoclient echo -addr=127.0.0.1:4000 [message]\n" +
		"With no message argument, reads standard input until end-of-file and sends that instead."
}

// Run mirrors the original echo_client.c: with no message argument, it
// reads standard input to end-of-file before sending, rather than a single
// line at a time. An explicit message argument is a convenience this
// rendering adds for quick one-shot invocations.
func (c *echoCommand) Run(args []string) int {
	var addr string
	flags := flag.NewFlagSet("echo", flag.ContinueOnError)
	flags.StringVar(&addr, "addr", "127.0.0.1:4000", "server address")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	rest := flags.Args()
	if len(rest) > 1 {
		fmt.Fprintln(os.Stderr, "at most one message argument is allowed")
		return 1
	}

	var payload []byte
	if len(rest) == 1 {
		payload = []byte(rest[0])
	} else {
		input, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		payload = input
	}
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(payload, '\n')
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reply := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, reply); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Print(string(reply))
	return 0
}

type statsCommand struct{}

func (c *statsCommand) Synopsis() string { return "Query a server's lifecycle counters" }
func (c *statsCommand) Help() string     { return "Usage: echoclient stats -addr=127.0.0.1:4001" }

func (c *statsCommand) Run(args []string) int {
	var addr string
	flags := flag.NewFlagSet("stats", flag.ContinueOnError)
	flags.StringVar(&addr, "addr", "127.0.0.1:4001", "admin address")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	client, err := adminrpc.NewClient(adminrpc.Config{Addr: addr})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer client.Close()

	resp, err := client.Stats()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	lines := []string{"Counter | Count | Sum"}
	for _, ctr := range resp.Counters {
		lines = append(lines, fmt.Sprintf("%s | %d | %g", ctr.Name, ctr.Count, ctr.Sum))
	}
	fmt.Printf("active handlers: %d\n", resp.ActiveHandlers)
	fmt.Println(columnize.SimpleFormat(lines))
	return 0
}
