package marketdata

import "github.com/jefrnc/das-bridge/internal/models"

// saleRing is a fixed-capacity ring of time-and-sales prints. When full,
// the oldest print is overwritten.
type saleRing struct {
	buf   []models.TimeSale
	head  int
	count int
}

func newSaleRing(capacity int) *saleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &saleRing{buf: make([]models.TimeSale, capacity)}
}

func (r *saleRing) push(sale models.TimeSale) {
	r.buf[r.head] = sale
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the prints oldest-first.
func (r *saleRing) snapshot() []models.TimeSale {
	out := make([]models.TimeSale, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
