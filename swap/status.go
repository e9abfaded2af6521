// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package swap

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siderolabs/gen/xslices"
)

// AreaStatus describes an active area.
type AreaStatus struct {
	Path     string
	Kind     string
	Label    string
	UUID     string
	State    string
	Type     int
	Priority int
	PageSize uint64
	Size     uint64
	Used     uint64
	Extents  int
	Flags    Flags
}

// Status returns the status of every active area, ordered by type.
func (r *Registry) Status() []AreaStatus {
	var areas []*Area

	for typ := range r.areas {
		if a := r.areas[typ].Load(); a != nil {
			areas = append(areas, a)
		}
	}

	return xslices.Map(areas, (*Area).Status)
}

// Status returns the status of the area.
func (a *Area) Status() AreaStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := AreaStatus{
		Path:     a.backing.Path(),
		Kind:     a.backing.Kind().String(),
		UUID:     a.hdr.UUID.String(),
		State:    a.drain.String(),
		Type:     a.typ,
		Priority: a.Priority(),
		PageSize: a.pageSize,
		Size:     a.pages,
		Used:     a.inuse,
		Extents:  a.NumExtents(),
		Flags:    a.flags,
	}

	if a.hdr.Label != nil {
		st.Label = *a.hdr.Label
	}

	return st
}

var (
	sizeDesc = prometheus.NewDesc(
		"swap_area_size_bytes",
		"Usable size of the swap area.",
		[]string{"path", "kind", "type", "priority"}, nil,
	)
	usedDesc = prometheus.NewDesc(
		"swap_area_used_bytes",
		"Used space of the swap area.",
		[]string{"path", "kind", "type", "priority"}, nil,
	)
	freeDesc = prometheus.NewDesc(
		"swap_free_slots",
		"Free slots over all active swap areas.",
		nil, nil,
	)
	totalDesc = prometheus.NewDesc(
		"swap_total_slots",
		"Total slots over all active swap areas.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- sizeDesc
	ch <- usedDesc
	ch <- freeDesc
	ch <- totalDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	free, total := r.Info()

	ch <- prometheus.MustNewConstMetric(freeDesc, prometheus.GaugeValue, float64(free))
	ch <- prometheus.MustNewConstMetric(totalDesc, prometheus.GaugeValue, float64(total))

	for _, st := range r.Status() {
		labels := []string{st.Path, st.Kind, strconv.Itoa(st.Type), strconv.Itoa(st.Priority)}

		ch <- prometheus.MustNewConstMetric(sizeDesc, prometheus.GaugeValue, float64(st.Size*st.PageSize), labels...)
		ch <- prometheus.MustNewConstMetric(usedDesc, prometheus.GaugeValue, float64(st.Used*st.PageSize), labels...)
	}
}
