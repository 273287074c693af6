// Package main is a small command-line companion to the relay library:
// validate manifests, list the catalogue, export the manifest schema,
// and run one-off chat calls against any configured provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelrelay/relay"
	"github.com/modelrelay/relay/internal/manifest"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "models":
		err = runModels(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "schema":
		err = runSchema()
	case "chat":
		err = runChat(os.Args[2:])
	case "version":
		fmt.Println(relay.Version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: relay <command> [flags]

commands:
  models    list catalogued models
  validate  check a manifest file
  schema    print the manifest JSON Schema
  chat      send one chat message
  version   print the library version`)
}

func newClient(manifestPath string) (*relay.Client, error) {
	var opts []relay.Option
	if manifestPath != "" {
		opts = append(opts, relay.WithManifestFile(manifestPath))
	}
	return relay.New(opts...)
}

func runModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest file (default: embedded)")
	fs.Parse(args)

	client, err := newClient(*manifestPath)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, m := range client.ListModels() {
		fmt.Printf("%-32s %-12s %-10s", m.ID, m.Provider, m.Status)
		if m.ContextWindow > 0 {
			fmt.Printf(" %d", m.ContextWindow)
		}
		fmt.Println()
	}
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	manifestPath := fs.String("manifest", "relay.yaml", "manifest file to check")
	fs.Parse(args)

	m, err := manifest.Load(*manifestPath)
	if err != nil {
		return err
	}
	fmt.Printf("%s: ok (%d providers, %d models)\n", *manifestPath, len(m.Providers), len(m.Models))
	return nil
}

func runSchema() error {
	_, err := os.Stdout.Write(manifest.ExportSchema())
	return err
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	manifestPath := fs.String("manifest", "", "manifest file (default: embedded)")
	model := fs.String("model", "", "model id")
	provider := fs.String("provider", "", "provider hint for uncatalogued models")
	stream := fs.Bool("stream", false, "stream the reply token by token")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall call deadline")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("chat needs a message argument")
	}
	if *model == "" {
		return fmt.Errorf("chat needs -model")
	}

	var opts []relay.Option
	if *manifestPath != "" {
		opts = append(opts, relay.WithManifestFile(*manifestPath))
	}
	if *provider != "" {
		opts = append(opts, relay.WithDefaultProvider(*provider))
	}
	client, err := relay.New(opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := &relay.ChatRequest{
		Model: *model,
		Messages: []relay.Message{
			{Role: relay.RoleUser, Content: relay.TextContent(fs.Arg(0))},
		},
	}

	if !*stream {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.FirstText())
		return nil
	}

	reader, err := client.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		for _, ch := range chunk.Choices {
			fmt.Print(ch.Delta.Content)
		}
	}
}
