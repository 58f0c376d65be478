package gas

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Entry is the gas attributed to one frame.
type Entry struct {
	Frame    int
	Label    string
	Limit    uint64
	Charged  uint64
	Refunded uint64
	Returned uint64
}

// Report returns one entry per meter created under the root, in creation order.
func (m *Meter) Report() []Entry {
	meters := m.root.meters
	out := make([]Entry, 0, len(meters))
	for _, mm := range meters {
		out = append(out, Entry{
			Frame:    mm.frame,
			Label:    mm.label,
			Limit:    mm.limit,
			Charged:  mm.charged,
			Refunded: mm.refunded,
			Returned: mm.returned,
		})
	}
	return out
}

// WriteReport renders the report as a table.
func (m *Meter) WriteReport(w io.Writer) {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Frame", "Label", "Limit", "Charged", "Refunded", "Returned"})
	for _, e := range m.Report() {
		table.Append([]string{strconv.Itoa(e.Frame), e.Label, u(e.Limit), u(e.Charged), u(e.Refunded), u(e.Returned)})
	}
	r := m.root
	table.SetFooter([]string{"", "total", u(r.limit), u(r.consumed), u(r.refundCounter + r.refundApplied), u(r.remaining)})
	table.Render()
}
