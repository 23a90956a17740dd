package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/hyperengineering/shelfsync/pkg/shelf"
	"github.com/spf13/cobra"
)

var (
	listFilter string
	listSort   string
	listLimit  int
	listAll    bool

	bookTitle  string
	bookAuthor string
	bookGenre  string
	bookPrice  float64
	bookRating int
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Browse and edit the catalog",
	Long:  "List, add, update, and delete books. Writes made while the API is unreachable are queued and synced later.",
}

var booksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List books",
	Args:  cobra.NoArgs,
	RunE:  runBooksList,
}

var booksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a book",
	Args:  cobra.NoArgs,
	RunE:  runBooksAdd,
}

var booksUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a book's attributes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBooksUpdate,
}

var booksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a book",
	Args:  cobra.ExactArgs(1),
	RunE:  runBooksDelete,
}

func init() {
	booksListCmd.Flags().StringVar(&listFilter, "filter", "",
		"Substring filter, or field:value (title, author, genre)")
	booksListCmd.Flags().StringVar(&listSort, "sort", "",
		"Sort order: field[:asc|desc]")
	booksListCmd.Flags().IntVar(&listLimit, "limit", 0,
		"Page size (default: client.page_size)")
	booksListCmd.Flags().BoolVar(&listAll, "all", false,
		"Load every page")

	for _, c := range []*cobra.Command{booksAddCmd, booksUpdateCmd} {
		c.Flags().StringVar(&bookTitle, "title", "", "Book title")
		c.Flags().StringVar(&bookAuthor, "author", "", "Book author")
		c.Flags().StringVar(&bookGenre, "genre", "", "Book genre")
		c.Flags().Float64Var(&bookPrice, "price", 0, "Book price")
		c.Flags().IntVar(&bookRating, "rating", 0, "Rating from 1 to 5")
		c.MarkFlagRequired("title")
		c.MarkFlagRequired("author")
		c.MarkFlagRequired("genre")
		c.MarkFlagRequired("rating")
	}

	booksCmd.AddCommand(booksListCmd)
	booksCmd.AddCommand(booksAddCmd)
	booksCmd.AddCommand(booksUpdateCmd)
	booksCmd.AddCommand(booksDeleteCmd)
}

func runBooksList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	params := shelf.ListParams{Limit: listLimit, Filter: listFilter, Sort: listSort}
	if err := client.Refresh(ctx, params); err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	for listAll {
		state := client.State()
		if state.Offline || !state.Pagination.HasMore {
			break
		}
		if err := client.LoadMore(ctx); err != nil {
			return err
		}
	}

	state := client.State()
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"books":      state.Books,
			"pagination": state.Pagination,
			"offline":    state.Offline,
			"pending":    state.Pending,
		})
	}

	if state.Offline {
		fmt.Fprintln(cmd.ErrOrStderr(), "API unavailable; showing cached catalog.")
	}
	if len(state.Books) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No books found.")
		return nil
	}
	printBooks(cmd.OutOrStdout(), state.Books)
	if !state.Offline && state.Pagination.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d books.\n", len(state.Books), state.Pagination.Total)
	}
	return nil
}

func runBooksAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	before := client.State().Pending
	book, err := client.Add(ctx, bookInput())
	if err != nil {
		return fmt.Errorf("add book: %w", err)
	}
	return reportWrite(cmd, "Added", book, client.State().Pending > before)
}

func runBooksUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseBookID(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	before := client.State().Pending
	book, err := client.Update(ctx, id, bookInput())
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return reportWrite(cmd, "Updated", book, client.State().Pending > before)
}

func runBooksDelete(cmd *cobra.Command, args []string) error {
	id, err := parseBookID(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()

	client, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	before := client.State().Pending
	if err := client.Remove(ctx, id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	queued := client.State().Pending > before

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":      id,
			"deleted": true,
			"queued":  queued,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted book %d%s\n", id, queuedSuffix(queued))
	return nil
}

func bookInput() shelf.BookInput {
	return shelf.BookInput{
		Title:  bookTitle,
		Author: bookAuthor,
		Genre:  bookGenre,
		Price:  bookPrice,
		Rating: bookRating,
	}
}

func parseBookID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid book id %q", s)
	}
	return id, nil
}

func reportWrite(cmd *cobra.Command, verb string, book *shelf.Book, queued bool) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"book":   book,
			"queued": queued,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s book %d %q%s\n", verb, book.ID, book.Title, queuedSuffix(queued))
	return nil
}

func queuedSuffix(queued bool) string {
	if queued {
		return " (queued for sync)"
	}
	return ""
}

func printBooks(w io.Writer, books []shelf.Book) {
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tGENRE\tPRICE\tRATING")
	for _, b := range books {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%d\n",
			b.ID, b.Title, b.Author, b.Genre, b.Price, b.Rating)
	}
	tw.Flush()
}
