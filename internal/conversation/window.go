package conversation

// DefaultHistoryWindow is the number of most recent turns sent upstream.
const DefaultHistoryWindow = 20

// Window returns at most max of the most recent items, oldest first.
// The returned slice shares the backing array with items.
func Window[T any](items []T, max int) []T {
	if max <= 0 {
		return nil
	}
	if len(items) <= max {
		return items
	}
	return items[len(items)-max:]
}
