package classify

import (
	"fmt"
	"strings"
)

const (
	// CategoryHypothesisTemplate frames the category-level question; {} is the candidate label.
	CategoryHypothesisTemplate = "This transaction should be categorized as {}."

	// SubcategoryHypothesisTemplate frames the subcategory question; {category} is
	// replaced with the predicted category before the oracle sees it.
	SubcategoryHypothesisTemplate = "Within the {category} category, this transaction is best described as {}."
)

func categoryInput(tx Transaction) string {
	return fmt.Sprintf("%s, amount: %s", tx.Name, tx.Amount.StringFixed(2))
}

func subcategoryInput(tx Transaction, category string) string {
	return fmt.Sprintf("%s, amount: %s, category: %s", tx.Name, tx.Amount.StringFixed(2), category)
}

func subcategoryTemplate(template, category string) string {
	return strings.ReplaceAll(template, "{category}", category)
}
