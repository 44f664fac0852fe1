package geo

import (
	"container/heap"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is a location on the unit sphere tagged with its input position.
type point struct {
	x, y, z float64
	idx     int
}

func unitPoint(lat, lon float64, idx int) point {
	phi, lam := Rad(lat), Rad(lon)
	return point{
		x:   math.Cos(phi) * math.Cos(lam),
		y:   math.Cos(phi) * math.Sin(lam),
		z:   math.Sin(phi),
		idx: idx,
	}
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	switch d {
	case 0:
		return p.x - q.x
	case 1:
		return p.y - q.y
	case 2:
		return p.z - q.z
	default:
		panic("geo: illegal dimension")
	}
}

func (p point) Dims() int { return 3 }

// Distance returns the squared chord length.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	dx, dy, dz := p.x-q.x, p.y-q.y, p.z-q.z
	return dx*dx + dy*dy + dz*dz
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p points) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{points: p, Dim: d}, kdtree.MedianOfMedians(plane{points: p, Dim: d}))
}

// plane sorts points along one dimension for kdtree construction.
type plane struct {
	points
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.points[i].x < p.points[j].x
	case 1:
		return p.points[i].y < p.points[j].y
	case 2:
		return p.points[i].z < p.points[j].z
	default:
		panic("geo: illegal dimension")
	}
}
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], Dim: p.Dim}
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }

// Neighbor is a located point and its great-circle distance from a query.
type Neighbor struct {
	Index  int
	DistKm float64
}

// Index answers range and k-nearest queries over a fixed set of lat/lon
// points. Distances are exact haversine values; the kd-tree over unit-sphere
// chords only prunes candidates, since chord length grows monotonically with
// great-circle distance.
type Index struct {
	lat, lon []float64
	pts      points
	tree     *kdtree.Tree
}

// NewIndex builds an index over the given coordinates in degrees.
func NewIndex(lat, lon []float64) *Index {
	pts := make(points, len(lat))
	for i := range lat {
		pts[i] = unitPoint(lat[i], lon[i], i)
	}
	ix := &Index{lat: lat, lon: lon, pts: pts}
	if len(pts) > 0 {
		// kdtree.New reorders its input, so hand it a copy.
		ix.tree = kdtree.New(append(points(nil), pts...), false)
	}
	return ix
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.pts) }

// Within returns every point other than i whose distance from point i is
// at most km, ordered by index.
func (ix *Index) Within(i int, km float64) []Neighbor {
	if ix.tree == nil {
		return nil
	}
	// Pad the chord radius slightly so rounding never drops a boundary point;
	// the haversine check below is authoritative.
	c := ChordForKm(km)*(1+1e-9) + 1e-12
	keeper := kdtree.NewDistKeeper(c * c)
	ix.tree.NearestSet(keeper, ix.pts[i])

	var out []Neighbor
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		j := cd.Comparable.(point).idx
		if j == i {
			continue
		}
		d := Haversine(ix.lat[i], ix.lon[i], ix.lat[j], ix.lon[j])
		if d <= km {
			out = append(out, Neighbor{Index: j, DistKm: d})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

// Nearest returns the k points closest to point i, excluding i itself,
// ordered by distance then index. Fewer are returned when the index holds
// fewer than k+1 points.
func (ix *Index) Nearest(i, k int) []Neighbor {
	if ix.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k + 1)
	ix.tree.NearestSet(keeper, ix.pts[i])

	out := make([]Neighbor, 0, k+1)
	for keeper.Len() > 0 {
		cd := heap.Pop(keeper).(kdtree.ComparableDist)
		if cd.Comparable == nil {
			continue
		}
		j := cd.Comparable.(point).idx
		if j == i {
			continue
		}
		out = append(out, Neighbor{Index: j, DistKm: Haversine(ix.lat[i], ix.lon[i], ix.lat[j], ix.lon[j])})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].DistKm != out[b].DistKm {
			return out[a].DistKm < out[b].DistKm
		}
		return out[a].Index < out[b].Index
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
