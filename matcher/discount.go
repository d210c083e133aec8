package matcher

// DiscountItem is the part of a receipt line that discount references look at.
type DiscountItem struct {
	Label   string
	Flagged bool
}

// LinkDiscountItems resolves the labels of one discount to item positions. Each label takes
// the next flagged item with that label after the previously linked one; labels without such
// an item get -1 and do not move the cursor.
func LinkDiscountItems(items []DiscountItem, labels []string) []int {
	links := make([]int, len(labels))
	seen := 0
	for i, label := range labels {
		links[i] = -1
		for j := seen; j < len(items); j++ {
			if items[j].Flagged && items[j].Label == label {
				links[i] = j
				seen = j + 1
				break
			}
		}
	}
	return links
}
