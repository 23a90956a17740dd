package shelf

// applyOperation returns a copy of books with the effect of op applied.
// Applying the same operation twice yields the same result: create is an
// upsert by ID, update patches an existing record, delete filters it out.
func applyOperation(books []Book, op PendingOperation) []Book {
	out := make([]Book, 0, len(books)+1)
	out = append(out, books...)

	switch op.Kind {
	case OperationCreate:
		if op.Payload.Book == nil {
			return out
		}
		return upsertBook(out, *op.Payload.Book)
	case OperationUpdate:
		if op.Payload.Book == nil {
			return out
		}
		for i := range out {
			if out[i].ID == op.Payload.ID {
				patched := *op.Payload.Book
				patched.ID = op.Payload.ID
				out[i] = patched
				break
			}
		}
		return out
	case OperationDelete:
		return removeBook(out, op.Payload.ID)
	}
	return out
}

// applyOperations replays ops, oldest first, over a copy of books.
func applyOperations(books []Book, ops []PendingOperation) []Book {
	out := make([]Book, len(books))
	copy(out, books)
	for _, op := range ops {
		out = applyOperation(out, op)
	}
	return out
}

// upsertBook replaces the book with the same ID or appends it.
func upsertBook(books []Book, book Book) []Book {
	for i := range books {
		if books[i].ID == book.ID {
			books[i] = book
			return books
		}
	}
	return append(books, book)
}

// replaceBook swaps the record identified by oldID for book, keeping its
// position. If oldID is absent the book is upserted. Any other record that
// already carries book.ID is dropped so IDs stay unique.
func replaceBook(books []Book, oldID int64, book Book) []Book {
	out := make([]Book, 0, len(books))
	replaced := false
	for _, b := range books {
		switch {
		case b.ID == oldID && !replaced:
			out = append(out, book)
			replaced = true
		case b.ID == book.ID || b.ID == oldID:
			// duplicate
		default:
			out = append(out, b)
		}
	}
	if !replaced {
		out = append(out, book)
	}
	return out
}

// removeBook filters out the book with the given ID.
func removeBook(books []Book, id int64) []Book {
	out := books[:0]
	for _, b := range books {
		if b.ID != id {
			out = append(out, b)
		}
	}
	return out
}

// mergeBooks appends the books of page that are not already present in
// books, identified by ID.
func mergeBooks(books []Book, page []Book) []Book {
	seen := make(map[int64]struct{}, len(books))
	for _, b := range books {
		seen[b.ID] = struct{}{}
	}
	for _, b := range page {
		if _, ok := seen[b.ID]; ok {
			continue
		}
		seen[b.ID] = struct{}{}
		books = append(books, b)
	}
	return books
}
