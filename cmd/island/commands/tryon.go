package commands

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-island/core/exchange"
)

var (
	tryOnPerson string
	tryOnCloth  string
	tryOnOutput string
)

var tryOnCmd = &cobra.Command{
	Use:   "tryon",
	Short: "Generate a picture of a person wearing a garment",
	Long: `Upload a photo of a person and a photo of a garment and save the
generated try-on image.

Example:
  island tryon --person me.jpg --cloth jacket.png --out result.jpg`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}

		person, err := loadImage(tryOnPerson)
		if err != nil {
			return err
		}
		cloth, err := loadImage(tryOnCloth)
		if err != nil {
			return err
		}

		ctx, stop := sessionContext(cmd)
		defer stop()

		result, err := exchange.NewTryOnClient(cfg.BaseURL).Submit(ctx, person, cloth)
		if err != nil {
			return fmt.Errorf("try-on failed: %w", err)
		}

		if err := saveToFile(tryOnOutput, result); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s\n", len(result), tryOnOutput)
		return nil
	},
}

func init() {
	tryOnCmd.Flags().StringVar(&tryOnPerson, "person", "", "photo of the person (required)")
	tryOnCmd.Flags().StringVar(&tryOnCloth, "cloth", "", "photo of the garment (required)")
	tryOnCmd.Flags().StringVarP(&tryOnOutput, "out", "o", "tryon.jpg", "where to write the generated image")
	_ = tryOnCmd.MarkFlagRequired("person")
	_ = tryOnCmd.MarkFlagRequired("cloth")

	rootCmd.AddCommand(tryOnCmd)
}

func loadImage(path string) (exchange.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return exchange.Image{}, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return exchange.Image{
		Name: filepath.Base(path),
		MIME: http.DetectContentType(data),
		Data: data,
	}, nil
}

// saveToFile saves data to a file
func saveToFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
