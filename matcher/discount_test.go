package matcher

import (
	"reflect"
	"testing"
)

func TestLinkDiscountItems(t *testing.T) {
	cases := []struct {
		name   string
		items  []DiscountItem
		labels []string
		want   []int
	}{
		{
			"disco",
			[]DiscountItem{{"soda", true}, {"soda", true}, {"soda", false}},
			[]string{"soda", "soda"},
			[]int{0, 1},
		},
		{
			"skips unflagged",
			[]DiscountItem{{"soda", false}, {"chips", true}, {"soda", true}},
			[]string{"soda"},
			[]int{2},
		},
		{
			"cursor moves forward",
			[]DiscountItem{{"chips", true}, {"soda", true}, {"chips", true}},
			[]string{"soda", "chips"},
			[]int{1, 2},
		},
		{
			"unresolved keeps cursor",
			[]DiscountItem{{"soda", true}, {"chips", true}},
			[]string{"beer", "soda", "soda"},
			[]int{-1, 0, -1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LinkDiscountItems(tc.items, tc.labels)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
