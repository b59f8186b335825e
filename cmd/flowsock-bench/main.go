package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowsock/flowsock"
	"github.com/flowsock/flowsock/internal/logging"
	"github.com/flowsock/flowsock/internal/nsio"
)

var (
	// ErrNavigateExit signals caller-intent to exit the interactive client.
	ErrNavigateExit = errors.New("navigate exit")
)

// App drives an interactive menu over a single namespace socket,
// useful for manually exercising connect/emit/ack/reconnect against a
// real or locally running socket.io-compatible server.
type App struct {
	reader *bufio.Reader
	url    string
	socket *nsio.Socket
}

func main() {
	var rawurl string
	flag.StringVar(&rawurl, "url", "ws://localhost:8080/socket.io/", "server URL, namespace as the path")
	flag.Parse()

	logging.ConfigureRuntime()

	app := NewApp(rawurl)
	if err := app.Run(); err != nil {
		logging.L().Error().Err(err).Msg("flowsock-bench: exiting with error")
		os.Exit(1)
	}
}

func NewApp(rawurl string) *App {
	return &App{reader: bufio.NewReader(os.Stdin), url: rawurl}
}

// Run connects the socket and executes the main interactive menu loop.
func (a *App) Run() error {
	socket, err := flowsock.Connect(a.url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.socket = socket
	a.wireLogging()

	for {
		a.printMenu()
		choice, err := a.promptInt("Choose", 1, 6)
		if err != nil {
			if errors.Is(err, ErrNavigateExit) {
				return a.exit()
			}
			return err
		}
		switch choice {
		case 1:
			a.showStatus()
		case 2:
			a.emitEvent()
		case 3:
			a.emitWithAck()
		case 4:
			a.socket.Disconnect()
			fmt.Println("disconnected")
		case 5:
			a.socket.Connect()
			fmt.Println("connect requested")
		case 6:
			return a.exit()
		}
	}
}

func (a *App) wireLogging() {
	a.socket.On("connect", func(args ...any) {
		logging.L().Info().Str("id", a.socket.ID()).Msg("bench: connected")
	})
	a.socket.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				reason = s
			}
		}
		logging.L().Warn().Str("reason", reason).Msg("bench: disconnected")
	})
	a.socket.On("error", func(args ...any) {
		logging.L().Error().Interface("payload", args).Msg("bench: server error")
	})
}

func (a *App) exit() error {
	a.socket.Close()
	logging.L().Info().Msg("flowsock-bench: exiting")
	return nil
}

func (a *App) printMenu() {
	fmt.Println()
	fmt.Println("flowsock-bench")
	fmt.Printf("  url:       %s\n", a.url)
	fmt.Printf("  namespace: %s\n", a.socket.Namespace())
	fmt.Printf("  connected: %v\n", a.socket.Connected())
	fmt.Println("  1) Show status")
	fmt.Println("  2) Emit event (no ack)")
	fmt.Println("  3) Emit event (wait for ack)")
	fmt.Println("  4) Disconnect")
	fmt.Println("  5) Reconnect")
	fmt.Println("  6) Exit")
}

func (a *App) showStatus() {
	fmt.Printf("id=%q connected=%v disconnected=%v\n", a.socket.ID(), a.socket.Connected(), a.socket.Disconnected())
}

func (a *App) emitEvent() {
	name, err := a.promptLine("event name")
	if err != nil {
		fmt.Println("read failed:", err)
		return
	}
	payload, err := a.promptLine("payload")
	if err != nil {
		fmt.Println("read failed:", err)
		return
	}
	if err := a.socket.Emit(name, payload); err != nil {
		fmt.Println("emit failed:", err)
	}
}

func (a *App) emitWithAck() {
	name, err := a.promptLine("event name")
	if err != nil {
		fmt.Println("read failed:", err)
		return
	}
	payload, err := a.promptLine("payload")
	if err != nil {
		fmt.Println("read failed:", err)
		return
	}

	done := make(chan []any, 1)
	ack := nsio.AckFunc(func(args ...any) { done <- args })
	if err := a.socket.Emit(name, payload, ack); err != nil {
		fmt.Println("emit failed:", err)
		return
	}

	select {
	case args := <-done:
		fmt.Printf("ack: %v\n", args)
	case <-time.After(5 * time.Second):
		fmt.Println("ack timed out")
	}
}

func (a *App) promptLine(label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Printf("%s: ", label)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) promptInt(label string, min, max int) (int, error) {
	for {
		line, err := a.promptLine(fmt.Sprintf("%s [%d-%d|exit|e]", label, min, max))
		if err != nil {
			return 0, err
		}
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if trimmed == "exit" || trimmed == "e" {
			return 0, ErrNavigateExit
		}
		v, err := strconv.Atoi(trimmed)
		if err != nil || v < min || v > max {
			fmt.Println("Invalid selection.")
			continue
		}
		return v, nil
	}
}
