// Command pumpgateway-console is an interactive terminal client for a
// running pumpgatewayd: it lets an operator type start/pump/close lines
// and binds a single hot-key (ESC) that immediately sends the raw
// single-byte ESC pump command to the currently-selected port without
// waiting for a typed line -- useful to abort a pump's in-flight action as
// fast as possible (spec.md §4.7's Sending/ESC transition).
//
// Grounded on the teacher's serial/keypress_windows.go + ui/keyboard.go
// (StartKeyEvents/DrainKeys via github.com/eiannone/keyboard) and
// ui/ui.go's ANSI-colored print helpers.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/eiannone/keyboard"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "pumpgatewayd TCP address")
	delimiter := flag.String("delimiter", "!", "command delimiter (must match server_config)")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	var mu sync.Mutex
	var currentPort string

	go printServerReplies(conn)

	escEvents := startEscWatcher()
	go func() {
		for range escEvents {
			mu.Lock()
			port := currentPort
			mu.Unlock()
			if port == "" {
				greenf("no port selected yet; type 'start PORT' first\n")
				continue
			}
			greenf("ESC -- aborting current action on %s\n", port)
			fmt.Fprintf(conn, "pump %s \x1b%s", port, *delimiter)
		}
	}()

	greenf("Connected to %s. Commands: start PORT | pump PORT COMMAND | close PORT | quit\n", *addr)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" {
			return
		}
		if port := selectedPort(line); port != "" {
			mu.Lock()
			currentPort = port
			mu.Unlock()
		}
		fmt.Fprintf(conn, "%s%s", line, *delimiter)
	}
}

// selectedPort extracts the port a "start PORT" or "pump PORT ..." line
// names, so the ESC hot-key knows which port to target.
func selectedPort(line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	switch fields[0] {
	case "start", "pump":
		return fields[1]
	default:
		return ""
	}
}

func printServerReplies(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
}

// startEscWatcher opens the keyboard and returns a channel that emits once
// per ESC keypress. If the keyboard cannot be opened (no TTY), it returns a
// channel that never emits, matching the teacher's StartKeyEvents
// graceful-degradation behavior.
func startEscWatcher() <-chan struct{} {
	ch := make(chan struct{}, 8)
	if err := keyboard.Open(); err != nil {
		return ch
	}
	go func() {
		defer keyboard.Close()
		for {
			_, key, err := keyboard.GetKey()
			if err != nil {
				close(ch)
				return
			}
			if key == keyboard.KeyEsc {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

func greenf(format string, a ...any) {
	fmt.Print("\033[92m")
	fmt.Printf(format, a...)
	fmt.Print("\033[0m")
}
