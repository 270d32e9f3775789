package fuel

import "strings"

// Feed fuel ids used by the ledger grades.
const (
	U91    = 2
	Diesel = 3
	U95    = 5
	U98    = 8
)

// Column names a ledger grade.
type Column string

// Ledger columns in on-disk order.
const (
	ColumnU91    Column = "u91"
	ColumnU95    Column = "u95"
	ColumnU98    Column = "u98"
	ColumnDiesel Column = "diesel"
)

// Columns lists the grades tracked by the ledger, in column order.
var Columns = []Column{ColumnU91, ColumnU95, ColumnU98, ColumnDiesel}

var names = map[int]string{
	2:    "U91",
	3:    "Diesel",
	4:    "LPG",
	5:    "U95",
	6:    "ULSD",
	8:    "U98",
	11:   "LRP",
	12:   "E10",
	13:   "Premium e5",
	14:   "Premium Diesel",
	16:   "Bio-Diesel 20",
	19:   "e85",
	21:   "OPAL",
	22:   "Compressed natural gas",
	23:   "Liquefied natural gas",
	999:  "e10/Unleaded",
	1000: "Diesel/Premium Diesel",
}

var columnIDs = map[Column]int{
	ColumnU91:    U91,
	ColumnU95:    U95,
	ColumnU98:    U98,
	ColumnDiesel: Diesel,
}

// Name returns the display name for a feed fuel id.
func Name(id int) string {
	if n, ok := names[id]; ok {
		return n
	}
	return "Unknown"
}

// ID returns the feed fuel id backing a ledger column.
func (c Column) ID() int {
	return columnIDs[c]
}

// Label is the display name of the column's grade.
func (c Column) Label() string {
	return Name(c.ID())
}

// ColumnFor maps a feed fuel id onto its ledger column, if it has one.
func ColumnFor(id int) (Column, bool) {
	for c, cid := range columnIDs {
		if cid == id {
			return c, true
		}
	}
	return "", false
}

// ParseColumn accepts a column name in any case.
func ParseColumn(s string) (Column, bool) {
	c := Column(strings.ToLower(strings.TrimSpace(s)))
	_, ok := columnIDs[c]
	return c, ok
}

// ReportsMean reports whether a grade is quoted as the regional average rather than the
// low percentile. Diesel retail pricing is less dispersed, so its mean is the useful figure.
func ReportsMean(id int) bool {
	return id == Diesel
}
