package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/campaignd/internal/provider"
)

var (
	dkimDomain   string
	dkimSelector string
	dkimKeyFile  string
	dkimOutDir   string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management for the SMTP provider",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new DKIM key pair",
	Long:  `Generate a new RSA 2048-bit DKIM key and print the DNS record to publish.`,
	RunE:  runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show DKIM DNS record from existing key",
	RunE:  runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "campaignd", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Path to private key file (required)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (required)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "campaignd", "DKIM selector")
	dkimShowCmd.MarkFlagRequired("key")
	dkimShowCmd.MarkFlagRequired("domain")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	signer, err := provider.GenerateDKIMSigner(dkimDomain, dkimSelector)
	if err != nil {
		return err
	}

	keyPath := filepath.Join(dkimOutDir, fmt.Sprintf("%s.key", dkimDomain))
	if err := signer.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	fmt.Printf("DKIM key generated successfully\n\n")
	fmt.Printf("Private key saved to: %s\n\n", keyPath)
	return printDKIMRecord(signer)
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	signer, err := provider.NewDKIMSignerFromFile(dkimKeyFile, dkimDomain, dkimSelector)
	if err != nil {
		return err
	}
	return printDKIMRecord(signer)
}

func printDKIMRecord(signer *provider.DKIMSigner) error {
	record, err := signer.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name:  %s\n", signer.DNSName())
	fmt.Printf("  Type:  TXT\n")
	fmt.Printf("  Value: %s\n", record)
	return nil
}
