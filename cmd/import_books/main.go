package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"library-catalog/config"
	"library-catalog/library"
)

var importer = library.Identity{Username: "import_books", IsAdmin: true}

// bookEntry is one book in the catalog export format used by the web front end.
type bookEntry struct {
	BookID          string              `json:"bookId"`
	BookName        string              `json:"bookName"`
	Author          string              `json:"author"`
	Category        jsoniter.RawMessage `json:"category"`
	Categories      []string            `json:"categories"`
	Description     string              `json:"description"`
	Publisher       string              `json:"publisher"`
	PublicationDate string              `json:"publicationDate"`
	Language        string              `json:"language"`
	Pages           *int                `json:"pages"`
	ISBN            string              `json:"isbn"`
	TotalCopies     *int                `json:"totalCopies"`
}

func main() {
	var dbPath, file string
	cmd := &cobra.Command{
		Use:          "import_books",
		Short:        "Import a JSON book catalog into the library database",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBDSN = dbPath
			}
			return run(cmd.Context(), cfg, file, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database path or DSN (overrides DB_DSN)")
	cmd.Flags().StringVar(&file, "file", "books.json", "JSON file with an array of books")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, file string, out io.Writer) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	entries, err := decodeCatalog(f)
	if err != nil {
		return err
	}

	manager, err := library.OpenLibraryManager(cfg.DBDriver, cfg.DBDSN, library.WithLogger(cfg.NewLogger()))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	fmt.Fprintf(out, "Importing %d books from %s...\n", len(entries), file)
	successCount, errorCount := importBooks(ctx, manager, entries, out)

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d books\n", successCount)
	fmt.Fprintf(out, "Errors: %d\n", errorCount)

	if successCount > 0 {
		books, err := manager.ListBooks(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%-20s %-50s %-30s %s\n", "Book ID", "Title", "Author", "Copies")
		fmt.Fprintln(out, strings.Repeat("-", 110))
		for _, b := range books {
			fmt.Fprintf(out, "%-20s %-50s %-30s %d/%d\n", b.ExternalID, truncateString(b.Title, 50),
				truncateString(b.Author, 30), b.AvailableCopies, b.TotalCopies)
		}
	}
	return nil
}

func decodeCatalog(r io.Reader) ([]bookEntry, error) {
	var entries []bookEntry
	if err := jsoniter.ConfigFastest.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return entries, nil
}

// importBooks adds each entry and reports per-book success. A failed book does not stop
// the import.
func importBooks(ctx context.Context, manager *library.LibraryManager, entries []bookEntry, out io.Writer) (int, int) {
	var successCount, errorCount int
	for i, e := range entries {
		fmt.Fprintf(out, "Importing: %s (%s)... ", e.BookName, e.BookID)

		in, err := e.toInput()
		if err == nil {
			var book *library.Book
			if book, err = manager.AddBook(ctx, importer, in); err == nil {
				fmt.Fprintf(out, "SUCCESS (ID: %d)\n", book.ID)
				successCount++
				continue
			}
		}

		var verr *library.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "ERROR - entry %d: %v\n", i+1, verr)
		} else {
			fmt.Fprintf(out, "ERROR - %v\n", err)
		}
		errorCount++
	}
	return successCount, errorCount
}

func (e bookEntry) toInput() (library.BookInput, error) {
	in := library.BookInput{
		ExternalID:  e.BookID,
		Title:       e.BookName,
		Author:      e.Author,
		Description: e.Description,
		Publisher:   e.Publisher,
		Language:    e.Language,
		Pages:       e.Pages,
		ISBN:        e.ISBN,
		Categories:  e.Categories,
		TotalCopies: 1,
	}
	if e.TotalCopies != nil {
		in.TotalCopies = *e.TotalCopies
	}

	if in.Categories == nil && len(e.Category) > 0 {
		cats, err := parseCategory(e.Category)
		if err != nil {
			return in, &library.ValidationError{Fields: map[string]string{"category": err.Error()}}
		}
		in.Categories = cats
	}

	if d := strings.TrimSpace(e.PublicationDate); d != "" {
		t, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return in, &library.ValidationError{Fields: map[string]string{"publicationDate": "enter a valid date (YYYY-MM-DD)"}}
		}
		in.PublicationDate = &t
	}
	return in, nil
}

// parseCategory accepts either a comma-separated string or an array of names.
func parseCategory(raw jsoniter.RawMessage) ([]string, error) {
	var s string
	if err := jsoniter.ConfigFastest.Unmarshal(raw, &s); err == nil {
		return strings.Split(s, ","), nil
	}
	var list []string
	if err := jsoniter.ConfigFastest.Unmarshal(raw, &list); err != nil {
		return nil, errors.New("expected a string or a list of strings")
	}
	return list, nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
