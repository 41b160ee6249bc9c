package categorizer

// Category names referenced by the pipeline itself. Everything else is plain
// model data.
const (
	CategoryIncome        = "Income"
	CategoryUncategorized = "Uncategorized"
)

// DefaultModel returns the built-in taxonomy, used when no model file is
// configured.
func DefaultModel() *Model {
	return &Model{Categories: []Category{
		{
			Name: "Food & Dining",
			Keywords: []string{
				"restaurant", "cafe", "coffee", "starbucks", "food", "dining",
				"pizza", "burger", "sushi", "bar", "pub", "bakery", "grocery",
				"supermarket", "market", "mcdonald", "doordash", "deliveroo",
			},
		},
		{
			Name: "Shopping",
			Keywords: []string{
				"amazon", "walmart", "target", "store", "shop", "retail",
				"mall", "clothing", "fashion", "electronics", "ebay",
			},
		},
		{
			Name: "Transportation",
			Keywords: []string{
				"uber", "lyft", "taxi", "fuel", "petrol", "parking", "metro",
				"train", "bus", "transit", "shell", "chevron", "toll",
			},
		},
		{
			Name: "Bills & Utilities",
			Keywords: []string{
				"electric", "water", "gas", "internet", "phone", "mobile",
				"utility", "bill", "insurance", "rent", "mortgage", "broadband",
			},
		},
		{
			Name: "Entertainment",
			Keywords: []string{
				"netflix", "spotify", "hulu", "disney", "movie", "theater",
				"cinema", "concert", "game", "gaming", "steam", "entertainment",
			},
		},
		{
			Name: "Healthcare",
			Keywords: []string{
				"doctor", "hospital", "pharmacy", "medical", "health", "clinic",
				"dental", "dentist", "medicine", "prescription", "optician",
			},
		},
		{
			Name: "Travel",
			Keywords: []string{
				"hotel", "airbnb", "booking", "travel", "vacation", "resort",
				"airline", "flight", "hostel", "rental car",
			},
		},
		{
			Name: "Personal Care",
			Keywords: []string{
				"salon", "spa", "gym", "fitness", "beauty", "haircut",
				"massage", "cosmetics", "barber",
			},
		},
		{
			Name: "Education",
			Keywords: []string{
				"school", "university", "college", "tuition", "course",
				"book", "education", "learning", "udemy",
			},
		},
		{
			Name: CategoryIncome,
			Keywords: []string{
				"salary", "paycheck", "payroll", "deposit", "income",
				"dividend", "refund", "reimbursement", "interest",
			},
		},
		{
			Name: "Transfer",
			Keywords: []string{
				"transfer", "venmo", "paypal", "zelle", "cashapp", "wise",
				"revolut",
			},
		},
	}}
}
