package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/campaignd/internal/provider"
)

var (
	initHostname string
	initOutput   string
	initDataDir  string
	initMode     string
	initAPIKey   string
	initTimezone string
	initSMTPHost string
	initSMTPFrom string
	initGateway  string
	initDKIM     bool
	initDomain   string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize campaignd configuration",
	Long: `Interactive wizard to create a campaignd configuration file.

Examples:
  # Interactive mode - prompts for missing values
  campaignd init

  # Local setup with the sandbox provider
  campaignd init --mode sandbox --data-dir ./data -o dev.yaml

  # SMTP relay for email, gateway for SMS and calls, with a DKIM key
  campaignd init --mode smtp --smtp-host relay.example.com \
    --smtp-from noreply@example.com --gateway https://gw.example.com --dkim`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Server hostname (default: system hostname)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/campaignd", "Data directory for databases and keys")
	initCmd.Flags().StringVar(&initMode, "mode", "", "Provider mode: sandbox, http, smtp")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initTimezone, "timezone", "America/New_York", "Default business hours timezone")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay host (smtp mode)")
	initCmd.Flags().StringVar(&initSMTPFrom, "smtp-from", "", "Sender address (smtp mode)")
	initCmd.Flags().StringVar(&initGateway, "gateway", "", "Communication gateway base URL (http and smtp modes)")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key (smtp mode)")
	initCmd.Flags().StringVar(&initDomain, "domain", "", "DKIM signing domain (default: domain of --smtp-from)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("campaignd Configuration Wizard")
	fmt.Println("==============================")
	fmt.Println()

	if initHostname == "" {
		hostname, _ := os.Hostname()
		initHostname = prompt(reader, "Server hostname", hostname)
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initMode == "" {
		initMode = prompt(reader, "Provider mode (sandbox, http, smtp)", "sandbox")
	}
	switch initMode {
	case "sandbox", "http", "smtp":
	default:
		return fmt.Errorf("invalid mode: %s (must be sandbox, http, or smtp)", initMode)
	}

	if initMode == "smtp" {
		if initSMTPHost == "" {
			initSMTPHost = prompt(reader, "SMTP relay host", "")
		}
		if initSMTPFrom == "" {
			initSMTPFrom = prompt(reader, "Sender address", "")
		}
		if initSMTPHost == "" || initSMTPFrom == "" {
			return fmt.Errorf("smtp mode requires a relay host and a sender address")
		}
	}
	if initMode != "sandbox" && initGateway == "" {
		initGateway = prompt(reader, "Gateway base URL", "")
		if initGateway == "" {
			return fmt.Errorf("%s mode requires a gateway base URL", initMode)
		}
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath, dkimDNSName, dkimDNSRecord string
	if initMode == "smtp" && initDKIM {
		if initDomain == "" {
			initDomain = senderDomain(initSMTPFrom)
		}
		signer, err := provider.GenerateDKIMSigner(initDomain, "campaignd")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}
		dkimKeyPath = filepath.Join(initDataDir, "dkim", initDomain+".key")
		if err := signer.SavePrivateKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}
		dkimDNSName = signer.DNSName()
		if dkimDNSRecord, err = signer.DNSRecord(); err != nil {
			return err
		}
		fmt.Printf("  DKIM key saved to: %s\n", dkimKeyPath)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(dkimKeyPath)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	if dkimDNSName != "" {
		fmt.Println("DKIM Record to Add")
		fmt.Println("==================")
		fmt.Printf("   Name:  %s\n", dkimDNSName)
		fmt.Printf("   Type:  TXT\n")
		fmt.Printf("   Value: %s\n", dkimDNSRecord)
		fmt.Println()
	}

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}

func generateConfig(dkimKeyPath string) string {
	dkimSection := `    dkim:
      enabled: false`
	if dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`    dkim:
      enabled: true
      selector: "campaignd"
      domain: "%s"
      key_file: "%s"`, initDomain, dkimKeyPath)
	}

	return fmt.Sprintf(`# campaignd configuration
# Generated by: campaignd init

server:
  hostname: "%s"

database:
  driver: "sqlite3"
  dsn: "%s/campaignd.db"
  auto_migrate: true

storage:
  path: "%s/tasks.db"
  retention:
    completed_max_age: 168h
    cleanup_interval: 1h

queue:
  workers: 4
  retry_interval: 30s
  max_retries: 5
  poll_interval: 1s

dlq:
  enabled: true
  max_age: 720h
  max_count: 10000

scheduler:
  interval: 5m

dispatcher:
  default_batch_size: 10
  next_day_time: "09:00"

business_hours:
  days: [monday, tuesday, wednesday, thursday, friday]
  start: "09:00"
  end: "17:00"
  timezone: "%s"

concurrency:
  backend: "bolt"
  max_concurrent_calls: 10
  call_timeout: 1h

providers:
  mode: "%s"
  http:
    base_url: "%s"
    requests_per_second: 20
  smtp:
    host: "%s"
    port: 587
    tls: "starttls"
    from: "%s"
%s
  sandbox:
    failure_rate: 0

api:
  listen_addr: ":8080"
  api_key: "%s"

metrics:
  enabled: true
  listen_addr: "127.0.0.1:9090"
  allowed_ips: ["127.0.0.1"]

logging:
  level: "info"
  format: "json"
`,
		initHostname,
		initDataDir,
		initDataDir,
		initTimezone,
		initMode,
		initGateway,
		initSMTPHost,
		initSMTPFrom,
		dkimSection,
		initAPIKey,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Start the engine:")
	fmt.Printf("   campaignd serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("2. Trigger a workflow:")
	fmt.Println("   curl -X POST http://localhost:8080/api/v1/workflows/<workflow-id>/trigger \\")
	fmt.Printf("     -H \"Authorization: Bearer %s\" \\\n", initAPIKey)
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println("     -d '{\"company_id\": \"<company-id>\", \"lead_id\": \"<lead-id>\"}'")
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("API Key: %s\n", initAPIKey)
	fmt.Println()
}
