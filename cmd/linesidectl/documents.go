package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/lineside/internal/documents"
)

func newStatusCmd(api func() *apiClient) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "status <line>",
		Short: "Show PDF counts and last change per folder of a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var root documents.FolderStatus
			if err := api().get(cmd.Context(), "/api/status/"+url.PathEscape(args[0]), nil, &root); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), root, 0, depth)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum folder depth to print (0 = all)")
	return cmd
}

func printStatus(w io.Writer, s documents.FolderStatus, level, depth int) {
	fmt.Fprintf(w, "%s%-*s %4d PDF  %s\n", strings.Repeat("  ", level), 30-2*level, s.Name, s.PDFCount, s.Status)
	if depth > 0 && level+1 >= depth {
		return
	}
	for _, child := range s.Children {
		printStatus(w, child, level+1, depth)
	}
}

func newUploadCmd(api func() *apiClient) *cobra.Command {
	var folder, comment string
	cmd := &cobra.Command{
		Use:   "upload <line> <file.pdf>",
		Short: "Upload a PDF as the next version of its document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(comment) == "" {
				return fmt.Errorf("--comment is required")
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			body, contentType, err := multipartBody(filepath.Base(args[1]), comment, f)
			if err != nil {
				return err
			}

			c := api()
			query := url.Values{}
			if folder != "" {
				query.Set("path", folder)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				c.url("/api/folders/"+url.PathEscape(args[0])+"/upload", query), body)
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", contentType)

			var result documents.UploadResult
			if err := c.do(req, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (division %d of %s)\n", result.StoredFileName, result.Division, result.BaseName)
			return nil
		},
	}
	cmd.Flags().StringVar(&folder, "path", "", "folder below the line, e.g. \"Station 1/Torque\"")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "change comment (required)")
	return cmd
}

func multipartBody(name, comment string, content io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("comment", comment); err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// openURL is replaced in tests.
var openURL = browser.OpenURL

func newOpenCmd(server func() string) *cobra.Command {
	var folder string
	cmd := &cobra.Command{
		Use:   "open <line> <file.pdf>",
		Short: "Open a PDF from the server in the default browser",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := pdfURL(server(), args[0], folder, args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "Opening %s\n", target)
			return openURL(target)
		},
	}
	cmd.Flags().StringVar(&folder, "path", "", "folder below the line")
	return cmd
}

func pdfURL(server, line, folder, file string) string {
	u := strings.TrimRight(server, "/") + "/pdf/" + url.PathEscape(line) + "/" + url.PathEscape(file)
	if folder != "" {
		u += "?" + url.Values{"path": {folder}}.Encode()
	}
	return u
}
