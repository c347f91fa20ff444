package model

// ContextItem is one serialized entry of the assembled context.
type ContextItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Score       float64  `json:"score"`
	Seed        bool     `json:"seed,omitempty"`
	Relation    Relation `json:"relation,omitempty"`
	Weight      float64  `json:"weight,omitempty"`
	Description string   `json:"desc,omitempty"`
}

type DietaryContext struct {
	Eat     []ContextItem `json:"eat"`
	Avoid   []ContextItem `json:"avoid"`
	Related []ContextItem `json:"related"`
}

// RankedContext is the budgeted, bucketed context handed to generation.
// It is never mutated once cached.
type RankedContext struct {
	Diseases    []ContextItem  `json:"diseases"`
	Symptoms    []ContextItem  `json:"symptoms"`
	Drugs       []ContextItem  `json:"drugs"`
	Checks      []ContextItem  `json:"checks"`
	Departments []ContextItem  `json:"departments"`
	Dietary     DietaryContext `json:"dietary"`
	Prevention  []ContextItem  `json:"prevention"`

	SizeBytes       int  `json:"size_bytes"`
	Budget          int  `json:"budget"`
	Dropped         int  `json:"dropped"`
	SeedsOverBudget bool `json:"seeds_over_budget"`
	Partial         bool `json:"partial"`
}

// Items returns every item in bucket order.
func (c *RankedContext) Items() []ContextItem {
	var out []ContextItem
	for _, bucket := range [][]ContextItem{
		c.Diseases, c.Symptoms, c.Drugs, c.Checks, c.Departments,
		c.Dietary.Eat, c.Dietary.Avoid, c.Dietary.Related, c.Prevention,
	} {
		out = append(out, bucket...)
	}
	return out
}

func (c *RankedContext) Len() int {
	return len(c.Items())
}

func (c *RankedContext) Empty() bool {
	return c.Len() == 0
}
