// Command citadelctl is the administrator shell from spec.md §6's "CLI
// surface": a thin client that dials the admin UDS socket and forwards
// one of a fixed set of subcommands, grounded on
// _examples/original_source/ctdlsh/main.c's do_one_command dispatch
// table and config.c's show_full_config. Each subcommand is either a
// direct forward of a line-protocol verb (config, shutdown) or a small
// multi-step exchange (mailq, per mailq.c's GOTO+MSGS+MSG0 sequence).
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

var version = "unknown"

func main() {
	app := &cli.App{
		Name:    "citadelctl",
		Usage:   "Citadel administration shell",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "path to the admin UDS socket",
				Value: "./data/citadel.socket",
			},
		},
		Commands: []*cli.Command{
			{Name: "help", Usage: "Display this message", Action: cmdHelp},
			{Name: "date", Usage: "Print the server's date and time", Action: withConn(cmdDate)},
			{Name: "config", Usage: "Display the server configuration", Action: withConn(cmdConfig)},
			{Name: "export", Usage: "Export all Citadel databases", Action: withConn(cmdExport)},
			{Name: "shutdown", Usage: "Shut down the Citadel server", Action: withConn(cmdShutdown)},
			{Name: "passwd", Usage: "Set or change an account password", Action: withConn(cmdPasswd)},
			{Name: "who", Usage: "Display a list of online users", Action: withConn(cmdWho)},
			{Name: "mailq", Usage: "Show the outbound email queue", Action: withConn(cmdMailq)},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmdHelp(c *cli.Context) error {
	for _, cmd := range c.App.Commands {
		fmt.Printf("%10s %s\n", cmd.Name, cmd.Usage)
	}
	return nil
}

// adminConn is one short-lived connection to the admin socket: dial,
// consume the greeting, run the subcommand, QUIT. Exit code mirrors
// §6's "non-zero on server error or connection failure".
type adminConn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

func dialAdmin(path string) (*adminConn, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("citadelctl: connect: %w", err)
	}
	a := &adminConn{conn: conn, br: bufio.NewReader(conn), bw: bufio.NewWriter(conn)}
	greeting, err := a.readLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("citadelctl: greeting: %w", err)
	}
	if len(greeting) == 0 || greeting[0] != '2' {
		conn.Close()
		return nil, fmt.Errorf("citadelctl: server refused connection: %s", greeting)
	}
	return a, nil
}

func (a *adminConn) send(format string, args ...interface{}) error {
	fmt.Fprintf(a.bw, format+"\n", args...)
	return a.bw.Flush()
}

func (a *adminConn) readLine() (string, error) {
	line, err := a.br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readListing reads lines until the literal "000" terminator, per
// spec.md §4.6's listing convention.
func (a *adminConn) readListing() ([]string, error) {
	var lines []string
	for {
		line, err := a.readLine()
		if err != nil {
			return lines, err
		}
		if line == "000" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (a *adminConn) close() {
	a.send("QUIT")
	a.readLine()
	a.conn.Close()
}

func withConn(fn func(*cli.Context, *adminConn) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := dialAdmin(c.String("socket"))
		if err != nil {
			return err
		}
		defer a.close()
		return fn(c, a)
	}
}

// cmdDate issues INFO and prints the server's greeting time; it has no
// dedicated protocol verb, so it reuses the banner INFO already streams
// (§4.1's "streams server greeting metadata").
func cmdDate(c *cli.Context, a *adminConn) error {
	if err := a.send("INFO"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '1' {
		return fmt.Errorf("citadelctl: %s", reply)
	}
	lines, err := a.readListing()
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(lines, " "))
	fmt.Println(time.Now().Format(time.RFC1123))
	return nil
}

// cmdConfig implements config.c's show_full_config: CONF listval, then
// "%-30s = %s" per key|value line.
func cmdConfig(c *cli.Context, a *adminConn) error {
	if err := a.send("CONF listval"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '1' {
		fmt.Println(reply)
		return cli.Exit("", 1)
	}
	lines, err := a.readListing()
	if err != nil {
		return err
	}
	for _, line := range lines {
		key, val, _ := strings.Cut(line, "|")
		fmt.Printf("%-30s = %s\n", key, val)
	}
	return nil
}

func cmdExport(c *cli.Context, a *adminConn) error {
	if err := a.send("DEXP"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	fmt.Println(reply)
	if len(reply) > 0 && (reply[0] == '1' || reply[0] == '8') {
		lines, err := a.readListing()
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
	}
	return nil
}

// cmdShutdown issues DOWN, matching spec.md §6's "DOWN 1 — immediate
// shutdown" line-protocol verb.
func cmdShutdown(c *cli.Context, a *adminConn) error {
	if err := a.send("DOWN 1"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	fmt.Println(reply)
	if len(reply) == 0 || reply[0] != '2' {
		return cli.Exit("", 1)
	}
	return nil
}

// cmdPasswd reauthenticates as the target user and relies on the
// server enforcing any password-change policy; citadelctl itself only
// forwards USER/PASS, the same two-step exchange every client uses.
func cmdPasswd(c *cli.Context, a *adminConn) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: citadelctl passwd <username>")
	}
	username := c.Args().Get(0)
	if err := a.send("USER %s", username); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '3' {
		return fmt.Errorf("citadelctl: %s", reply)
	}
	fmt.Print("New password: ")
	var password string
	fmt.Scanln(&password)
	if err := a.send("PASS %s", password); err != nil {
		return err
	}
	reply, err = a.readLine()
	if err != nil {
		return err
	}
	fmt.Println(reply)
	if len(reply) == 0 || reply[0] != '2' {
		return cli.Exit("", 1)
	}
	return nil
}

// cmdWho has no dedicated protocol verb in spec.md's command table
// (the spec calls it "non-exhaustive"); it forwards RWHO and prints
// whatever the server returns, failing gracefully to "Illegal command"
// against a server build that hasn't wired that extension in.
func cmdWho(c *cli.Context, a *adminConn) error {
	if err := a.send("RWHO"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '1' {
		fmt.Println(reply)
		return nil
	}
	lines, err := a.readListing()
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

// cmdMailq implements mailq.c's cmd_mailq: GOTO the spool-out room,
// then MSGS ALL, then MSG0 each number, printing the msgid/submitted/
// attempted/bounceto/remote fields it finds.
func cmdMailq(c *cli.Context, a *adminConn) error {
	if err := a.send("GOTO __CitadelSMTPspoolout__"); err != nil {
		return err
	}
	reply, err := a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '2' {
		fmt.Println(reply)
		return cli.Exit("", 1)
	}

	if err := a.send("MSGS ALL"); err != nil {
		return err
	}
	reply, err = a.readLine()
	if err != nil {
		return err
	}
	if len(reply) == 0 || reply[0] != '1' {
		fmt.Println(reply)
		return cli.Exit("", 1)
	}
	nums, err := a.readListing()
	if err != nil {
		return err
	}

	for _, numStr := range nums {
		n, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
		if err != nil {
			continue
		}
		if err := a.send("MSG0 %d", n); err != nil {
			return err
		}
		reply, err := a.readLine()
		if err != nil {
			return err
		}
		if len(reply) == 0 || reply[0] != '1' {
			continue
		}
		lines, err := a.readListing()
		if err != nil {
			return err
		}
		fmt.Printf("Message %d:\n", n)
		for _, l := range lines {
			if strings.HasPrefix(l, "submitted=") {
				fmt.Println("Originally submitted:", l[len("submitted="):])
			} else if strings.HasPrefix(l, "attempted=") {
				fmt.Println("Last delivery attempt:", l[len("attempted="):])
			} else if strings.HasPrefix(l, "bounceto=") {
				fmt.Println("Sender:", l[len("bounceto="):])
			} else if strings.HasPrefix(l, "remote=") {
				fmt.Println("Recipient:", l[len("remote="):])
			}
		}
		fmt.Println()
	}
	return nil
}
