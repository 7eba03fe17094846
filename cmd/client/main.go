package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/PaulBabatuyi/FileVault/internal/client"
	"github.com/PaulBabatuyi/FileVault/internal/observability"
	"go.uber.org/zap"
)

const defaultServer = "http://localhost:3000"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: filevault-client [-server URL] [-v] <command> [args]

Commands:
  upload <path>              upload a local file
  replace <id> <path>        replace the content of a stored file
  list                       list stored files
  download <id> <out-path>   save a stored file locally
  delete <id>                delete a stored file
`)
}

func main() {
	serverURL := flag.String("server", envOr("FILEVAULT_SERVER", defaultServer), "FileVault server URL")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := observability.InitLogger(true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
		defer logger.Sync()
	}

	fc, err := client.NewFileClient(*serverURL, client.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, fc, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, fc *client.FileClient, cmd string, args []string) error {
	switch cmd {
	case "upload":
		if len(args) != 1 {
			return errors.New("usage: upload <path>")
		}
		f, err := fc.UploadFile(ctx, args[0])
		if err != nil {
			return describe(err)
		}
		fmt.Printf("✓ Uploaded: %s (ID: %s, Size: %d bytes)\n", f.Name, f.ID, f.Size)

	case "replace":
		if len(args) != 2 {
			return errors.New("usage: replace <id> <path>")
		}
		f, err := fc.ReplaceFile(ctx, args[0], args[1])
		if err != nil {
			return describe(err)
		}
		fmt.Printf("✓ Replaced: %s (ID: %s, Size: %d bytes)\n", f.Name, f.ID, f.Size)

	case "list":
		files, err := fc.ListFiles(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Found %d files:\n", len(files))
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSIZE\tTYPE\tUPLOADED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", f.ID, f.Name, f.Size, f.Type, f.UploadDate)
		}
		return tw.Flush()

	case "download":
		if len(args) != 2 {
			return errors.New("usage: download <id> <out-path>")
		}
		n, err := fc.DownloadFile(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Downloaded %d bytes to %s\n", n, args[1])

	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <id>")
		}
		if err := fc.DeleteFile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("✓ File deleted successfully")

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func describe(err error) error {
	var dup *client.DuplicateError
	if errors.As(err, &dup) {
		return fmt.Errorf("duplicate file: same content already stored as %q (ID: %s, uploaded %s)",
			dup.Name, dup.ID, dup.UploadDate)
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
