package inventory

// Check verifies stacks hold at least quantity of id, summing until the threshold is met.
func Check(id string, quantity int, stacks []Stack) error {
	if quantity <= 0 {
		return nil
	}
	total := 0
	for i := range stacks {
		if stacks[i].ID != id {
			continue
		}
		total += stacks[i].Quantity
		if total >= quantity {
			return nil
		}
	}
	return fail(ErrInsufficientQuantity, "%s: have %d, need %d", id, total, quantity)
}

func Has(id string, quantity int, stacks []Stack) bool {
	return Check(id, quantity, stacks) == nil
}

// Count sums the quantity of id across all stacks.
func Count(id string, stacks []Stack) int {
	n := 0
	for i := range stacks {
		if stacks[i].ID == id {
			n += stacks[i].Quantity
		}
	}
	return n
}

func GetByUID(uid string, stacks []Stack) (Stack, error) {
	i := indexOf(stacks, uid)
	if i < 0 {
		return Stack{}, fail(ErrStackNotFound, "unable to get item by uid")
	}
	return stacks[i].Clone(), nil
}

// GetData returns a copy of the custom data attached to uid.
func GetData(uid string, stacks []Stack) (map[string]any, error) {
	s, err := GetByUID(uid, stacks)
	if err != nil {
		return nil, err
	}
	return s.Data, nil
}

// TotalWeight is sum(quantity*weight). Stacks whose definition is gone weigh nothing.
func (e *Engine) TotalWeight(stacks []Stack) float64 {
	w := 0.0
	for i := range stacks {
		def, ok := e.cat.Get(stacks[i].ID)
		if !ok {
			continue
		}
		w += float64(stacks[i].Quantity) * def.Weight
	}
	return w
}
