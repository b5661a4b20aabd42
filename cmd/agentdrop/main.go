// ABOUTME: agentdrop is the agent-side CLI: key generation, request signing and signed API calls
// ABOUTME: Every API call is signed with the agent's Ed25519 key via internal/signing

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/agentdrop/internal/jwk"
	"github.com/2389/agentdrop/internal/signing"
)

const usage = `Usage: agentdrop <command> [flags]

Commands:
  keygen                     Generate the agent key and print its public forms
  whoami                     Show the key hash and public key
  sign METHOD PATH           Print signing headers for a request
  request METHOD PATH        Send a signed request and print the response
  grants                     List grants addressed to this key
  download FILE_ID           Resolve a download URL (owner or --token grant)

Global flags:
  --config FILE              agent.toml location
  --api-url URL              gateway base URL
`

// globals are flags accepted by every command.
type globals struct {
	configPath string
	apiURL     string
}

func (g *globals) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.configPath, "config", defaultConfigPath(), "agent.toml location")
	fs.StringVar(&g.apiURL, "api-url", "", "gateway base URL (overrides api_url)")
}

func (g *globals) load() (*Config, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.apiURL != "" {
		cfg.APIURL = g.apiURL
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(args)
	case "whoami":
		err = runWhoami(args)
	case "sign":
		err = runSign(args)
	case "request":
		err = runRequest(ctx, args)
	case "grants":
		err = runGrants(ctx, args)
	case "download":
		err = runDownload(ctx, args)
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runKeygen(args []string) error {
	var g globals
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	g.register(fs)
	force := fs.Bool("force", false, "overwrite an existing key")
	comment := fs.String("comment", "agentdrop", "comment stored in the key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	priv, err := generateKey(cfg.KeyPath, *comment, *force)
	if err != nil {
		return err
	}
	color.Green("  ✓ Wrote %s", cfg.KeyPath)
	fmt.Println()
	return printIdentity(priv.Public().(ed25519.PublicKey))
}

func runWhoami(args []string) error {
	var g globals
	fs := pflag.NewFlagSet("whoami", pflag.ContinueOnError)
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	priv, err := loadKey(cfg.KeyPath)
	if err != nil {
		return err
	}
	return printIdentity(priv.Public().(ed25519.PublicKey))
}

func printIdentity(pub ed25519.PublicKey) error {
	line, err := authorizedKey(pub)
	if err != nil {
		return err
	}
	cyan := color.New(color.FgCyan)
	cyan.Print("  Key hash:   ")
	fmt.Println(jwk.Thumbprint(pub))
	cyan.Print("  Public JWK: ")
	fmt.Println(jwk.FromPublicKey(pub).String())
	cyan.Print("  SSH:        ")
	fmt.Println(line)
	return nil
}

// bodyFlags reads a request body from --data or --data-file.
type bodyFlags struct {
	data     string
	dataFile string
}

func (b *bodyFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&b.data, "data", "d", "", "request body")
	fs.StringVar(&b.dataFile, "data-file", "", "read the request body from a file (- for stdin)")
}

func (b *bodyFlags) read() ([]byte, error) {
	switch {
	case b.data != "" && b.dataFile != "":
		return nil, errors.New("--data and --data-file are mutually exclusive")
	case b.data != "":
		return []byte(b.data), nil
	case b.dataFile == "-":
		return io.ReadAll(os.Stdin)
	case b.dataFile != "":
		return os.ReadFile(b.dataFile)
	}
	return nil, nil
}

func methodAndPath(fs *pflag.FlagSet) (string, string, error) {
	if fs.NArg() != 2 {
		return "", "", errors.New("expected METHOD and PATH")
	}
	method := strings.ToUpper(fs.Arg(0))
	path := fs.Arg(1)
	if !strings.HasPrefix(path, "/") {
		return "", "", fmt.Errorf("path must start with /: %q", path)
	}
	return method, path, nil
}

func runSign(args []string) error {
	var g globals
	var body bodyFlags
	fs := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	g.register(fs)
	body.register(fs)
	verbose := fs.BoolP("verbose", "v", false, "also print the canonical string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	method, target, err := methodAndPath(fs)
	if err != nil {
		return err
	}
	payload, err := body.read()
	if err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	priv, err := loadKey(cfg.KeyPath)
	if err != nil {
		return err
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parsing path: %w", err)
	}
	headers, err := signing.NewSigner(priv).Sign(method, u.EscapedPath(), payload)
	if err != nil {
		return err
	}

	h := http.Header{}
	headers.Apply(h)
	for _, name := range []string{signing.HeaderKeyHash, signing.HeaderTimestamp, signing.HeaderNonce, signing.HeaderSignature} {
		fmt.Printf("%s: %s\n", name, h.Get(name))
	}
	if *verbose {
		canonical := signing.CanonicalString(method, u.EscapedPath(), headers.Timestamp, headers.Nonce, signing.HashBody(payload))
		color.New(color.FgHiBlack).Printf("\n%s\n", canonical)
	}
	return nil
}

func newClient(g *globals) (*signing.Client, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	priv, err := loadKey(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	return signing.NewClient(cfg.APIURL, signing.NewSigner(priv)), nil
}

// call sends a signed request and returns the body, failing on non-2xx.
func call(ctx context.Context, c *signing.Client, method, target string, payload []byte) ([]byte, int, error) {
	resp, err := c.Do(ctx, method, target, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func printJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

func statusError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("%d %s: %s", status, body.Code, body.Error)
	}
	return fmt.Errorf("unexpected status %d", status)
}

func runRequest(ctx context.Context, args []string) error {
	var g globals
	var body bodyFlags
	fs := pflag.NewFlagSet("request", pflag.ContinueOnError)
	g.register(fs)
	body.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	method, target, err := methodAndPath(fs)
	if err != nil {
		return err
	}
	payload, err := body.read()
	if err != nil {
		return err
	}
	c, err := newClient(&g)
	if err != nil {
		return err
	}

	data, status, err := call(ctx, c, method, target, payload)
	if err != nil {
		return err
	}
	statusColor := color.New(color.FgGreen)
	if status >= 400 {
		statusColor = color.New(color.FgRed)
	}
	statusColor.Fprintf(os.Stderr, "%d %s ", status, http.StatusText(status))
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "(signed by %s)\n", c.Signer().KeyHash())
	printJSON(data)
	return nil
}

func runGrants(ctx context.Context, args []string) error {
	var g globals
	fs := pflag.NewFlagSet("grants", pflag.ContinueOnError)
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := newClient(&g)
	if err != nil {
		return err
	}

	data, status, err := call(ctx, c, http.MethodGet, "/api/grants/received", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, data)
	}

	var resp struct {
		Grants []struct {
			ID          string   `json:"id"`
			FileID      string   `json:"file_id"`
			Permissions []string `json:"permissions"`
			ExpiresAt   string   `json:"expires_at"`
			RevokedAt   *string  `json:"revoked_at"`
		} `json:"grants"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(resp.Grants) == 0 {
		fmt.Printf("no grants for %s\n", c.Signer().KeyHash())
		return nil
	}
	gray := color.New(color.FgHiBlack)
	for _, gr := range resp.Grants {
		state := color.GreenString("active")
		if gr.RevokedAt != nil {
			state = color.RedString("revoked")
		}
		fmt.Printf("%s  file=%s  %s  ", gr.ID, gr.FileID, strings.Join(gr.Permissions, ","))
		gray.Printf("expires %s ", gr.ExpiresAt)
		fmt.Println(state)
	}
	return nil
}

func runDownload(ctx context.Context, args []string) error {
	var g globals
	fs := pflag.NewFlagSet("download", pflag.ContinueOnError)
	g.register(fs)
	token := fs.StringP("token", "t", "", "grant token for files owned by someone else")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected FILE_ID")
	}
	c, err := newClient(&g)
	if err != nil {
		return err
	}

	target := "/api/files/" + url.PathEscape(fs.Arg(0)) + "/download"
	if *token != "" {
		target += "?token=" + url.QueryEscape(*token)
	}
	data, status, err := call(ctx, c, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(status, data)
	}

	var resp struct {
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Println(resp.DownloadURL)
	return nil
}
