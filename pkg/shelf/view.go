package shelf

import (
	"sort"
	"strings"
)

// filterBooks keeps books matching filter: a case-insensitive substring of
// title, author or genre, or of a single field when written "field:value".
func filterBooks(books []Book, filter string) []Book {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return books
	}

	field, value := "", filter
	if f, v, ok := strings.Cut(filter, ":"); ok {
		switch strings.ToLower(f) {
		case "title", "author", "genre":
			field, value = strings.ToLower(f), v
		}
	}
	value = strings.ToLower(value)

	out := make([]Book, 0, len(books))
	for _, b := range books {
		var match bool
		switch field {
		case "title":
			match = containsFold(b.Title, value)
		case "author":
			match = containsFold(b.Author, value)
		case "genre":
			match = containsFold(b.Genre, value)
		default:
			match = containsFold(b.Title, value) || containsFold(b.Author, value) || containsFold(b.Genre, value)
		}
		if match {
			out = append(out, b)
		}
	}
	return out
}

func containsFold(s, lowerSubstr string) bool {
	return strings.Contains(strings.ToLower(s), lowerSubstr)
}

// sortBooks orders books in place by "field[:asc|desc]". Unknown or empty
// fields sort by ID ascending.
func sortBooks(books []Book, order string) {
	field, dir, _ := strings.Cut(strings.TrimSpace(order), ":")
	desc := strings.EqualFold(dir, "desc")

	var less func(a, b Book) bool
	switch strings.ToLower(field) {
	case "title":
		less = func(a, b Book) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "author":
		less = func(a, b Book) bool { return strings.ToLower(a.Author) < strings.ToLower(b.Author) }
	case "genre":
		less = func(a, b Book) bool { return strings.ToLower(a.Genre) < strings.ToLower(b.Genre) }
	case "price":
		less = func(a, b Book) bool { return a.Price < b.Price }
	case "rating":
		less = func(a, b Book) bool { return a.Rating < b.Rating }
	default:
		less = func(a, b Book) bool { return a.ID < b.ID }
	}

	sort.SliceStable(books, func(i, j int) bool {
		if desc {
			return less(books[j], books[i])
		}
		return less(books[i], books[j])
	})
}

// viewOf returns a filtered and sorted copy of books.
func viewOf(books []Book, params ListParams) []Book {
	cp := make([]Book, len(books))
	copy(cp, books)
	out := filterBooks(cp, params.Filter)
	sortBooks(out, params.Sort)
	return out
}

// windowOf applies params to a full catalog snapshot and keeps only the
// first pages pages of the result.
func windowOf(books []Book, params ListParams, pages int) []Book {
	out := viewOf(books, params)
	if pages > 0 && params.Limit > 0 && len(out) > pages*params.Limit {
		out = out[:pages*params.Limit]
	}
	return out
}
