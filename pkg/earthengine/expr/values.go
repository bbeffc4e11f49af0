package expr

// Computed is an untyped server-side value, e.g. an image property.
type Computed struct {
	n *Node
}

// Node implements Value.
func (c Computed) Node() *Node { return c.n }

// Number is a server-side number.
type Number struct {
	n *Node
}

// Node implements Value.
func (n Number) Node() *Node { return n.n }

// Subtract returns n - other.
func (n Number) Subtract(other Number) Number {
	return Number{n: Invoke("Number.subtract", map[string]Value{"left": n, "right": other})}
}

// Date is a server-side timestamp.
type Date struct {
	n *Node
}

// Node implements Value.
func (d Date) Node() *Node { return d.n }

// NewDate builds a date from a string ("2013-03-20") or a millisecond value.
func NewDate(value Value) Date {
	return Date{n: Invoke("Date", map[string]Value{"value": value})}
}

// ParseDate builds a date from an ISO string.
func ParseDate(s string) Date { return NewDate(Constant(s)) }

// DateFromYMD builds a date from calendar fields.
func DateFromYMD(year Value, month, day int) Date {
	return Date{n: Invoke("Date.fromYMD", map[string]Value{
		"year":  year,
		"month": Constant(month),
		"day":   Constant(day),
	})}
}

// Difference returns d - start expressed in unit ("year", "month", ...),
// fractional.
func (d Date) Difference(start Date, unit string) Number {
	return Number{n: Invoke("Date.difference", map[string]Value{
		"date":  d,
		"start": start,
		"unit":  Constant(unit),
	})}
}

// Millis returns milliseconds since the Unix epoch.
func (d Date) Millis() Number {
	return Number{n: Invoke("Date.millis", map[string]Value{"date": d})}
}

// Dictionary is a server-side dictionary, e.g. a reduceRegion result.
type Dictionary struct {
	n *Node
}

// Node implements Value.
func (d Dictionary) Node() *Node { return d.n }

// Get reads one entry as a number.
func (d Dictionary) Get(key string) Number {
	return Number{n: Invoke("Dictionary.get", map[string]Value{
		"dictionary": d,
		"key":        Constant(key),
	})}
}

// List is a server-side list.
type List struct {
	n *Node
}

// Node implements Value.
func (l List) Node() *Node { return l.n }

// Sequence is the inclusive integer range [start, end].
func Sequence(start, end int) List {
	return List{n: Invoke("List.sequence", map[string]Value{
		"start": Constant(start),
		"end":   Constant(end),
	})}
}

// MapImages maps every element to an image on the server.
func (l List) MapImages(fn func(Number) Image) List {
	algorithm := Function(func(arg *Node) *Node {
		return fn(Number{n: arg}).Node()
	})
	return List{n: Invoke("List.map", map[string]Value{
		"list":          l,
		"baseAlgorithm": algorithm,
	})}
}

// Filter is a server-side collection predicate.
type Filter struct {
	n *Node
}

// Node implements Value.
func (f Filter) Node() *Node { return f.n }

// DateRangeFilter matches start <= system:time_start < end.
func DateRangeFilter(start, end string) Filter {
	return Filter{n: Invoke("Filter.dateRangeContains", map[string]Value{
		"leftValue": Invoke("DateRange", map[string]Value{
			"start": Constant(start),
			"end":   Constant(end),
		}),
		"rightField": Constant("system:time_start"),
	})}
}

// BoundsFilter matches elements whose footprint intersects geometry.
func BoundsFilter(geometry Geometry) Filter {
	return Filter{n: Invoke("Filter.intersects", map[string]Value{
		"leftField":  Constant(".all"),
		"rightValue": geometry,
	})}
}

// LessThan matches elements whose property is below value.
func LessThan(property string, value float64) Filter {
	return Filter{n: Invoke("Filter.lessThan", map[string]Value{
		"leftField":  Constant(property),
		"rightValue": Constant(value),
	})}
}

// CalendarRange matches elements whose date field lies in [start, end].
func CalendarRange(start, end Value, field string) Filter {
	return Filter{n: Invoke("Filter.calendarRange", map[string]Value{
		"start": start,
		"end":   end,
		"field": Constant(field),
	})}
}

// Reducer is a server-side aggregation.
type Reducer struct {
	n *Node
}

// Node implements Value.
func (r Reducer) Node() *Node { return r.n }

func reducer(name string) Reducer {
	return Reducer{n: Invoke(name, nil)}
}

// LinearFit regresses the second input band on the first; outputs
// "scale" (slope) and "offset" (intercept).
func LinearFit() Reducer { return reducer("Reducer.linearFit") }

// MinMax outputs <band>_min and <band>_max.
func MinMax() Reducer { return reducer("Reducer.minMax") }

// Min outputs the minimum.
func Min() Reducer { return reducer("Reducer.min") }

// Max outputs the maximum.
func Max() Reducer { return reducer("Reducer.max") }

// Geometry is a server-side geometry.
type Geometry struct {
	n *Node
}

// Node implements Value.
func (g Geometry) Node() *Node { return g.n }

// Polygon builds a polygon from rings of [x, y] positions in crs. The
// first ring is the exterior. geodesic selects great-circle edges.
func Polygon(rings [][][2]float64, crs string, geodesic bool) Geometry {
	ringValues := make([]Value, len(rings))
	for i, ring := range rings {
		points := make([]Value, len(ring))
		for j, p := range ring {
			points[j] = Array(Constant(p[0]), Constant(p[1]))
		}
		ringValues[i] = Array(points...)
	}

	return Geometry{n: Invoke("GeometryConstructors.Polygon", map[string]Value{
		"coordinates": Array(ringValues...),
		"crs":         Invoke("Projection", map[string]Value{"crs": Constant(crs)}),
		"geodesic":    Constant(geodesic),
		"evenOdd":     Constant(true),
	})}
}
