package expr

// ImageCollection is a handle to a server-side, filterable set of images.
type ImageCollection struct {
	n *Node
}

// Node implements Value.
func (c ImageCollection) Node() *Node { return c.n }

// LoadCollection references a catalog collection by id.
func LoadCollection(id string) ImageCollection {
	return ImageCollection{n: Invoke("ImageCollection.load", map[string]Value{"id": Constant(id)})}
}

// FromImages builds a collection from a server-side list of images.
func FromImages(images List) ImageCollection {
	return ImageCollection{n: Invoke("ImageCollection.fromImages", map[string]Value{"images": images})}
}

// Filter keeps the images matching f.
func (c ImageCollection) Filter(f Filter) ImageCollection {
	return ImageCollection{n: Invoke("Collection.filter", map[string]Value{
		"collection": c,
		"filter":     f,
	})}
}

// FilterDate keeps images with start <= system:time_start < end.
func (c ImageCollection) FilterDate(start, end string) ImageCollection {
	return c.Filter(DateRangeFilter(start, end))
}

// FilterBounds keeps images intersecting geometry.
func (c ImageCollection) FilterBounds(geometry Geometry) ImageCollection {
	return c.Filter(BoundsFilter(geometry))
}

// Map applies fn to every image on the server.
func (c ImageCollection) Map(fn func(Image) Image) ImageCollection {
	algorithm := Function(func(arg *Node) *Node {
		return fn(Image{n: arg}).Node()
	})
	return ImageCollection{n: Invoke("Collection.map", map[string]Value{
		"collection":    c,
		"baseAlgorithm": algorithm,
	})}
}

// Select keeps the named bands of every image.
func (c ImageCollection) Select(bands ...string) ImageCollection {
	return c.Map(func(img Image) Image { return img.Select(bands...) })
}

// Sort orders the collection by an image property, ascending.
func (c ImageCollection) Sort(property string) ImageCollection {
	return ImageCollection{n: Invoke("Collection.limit", map[string]Value{
		"collection": c,
		"key":        Constant(property),
		"ascending":  Constant(true),
	})}
}

// Reduce applies reducer across the temporal stack, per pixel.
func (c ImageCollection) Reduce(reducer Reducer) Image {
	return Image{n: Invoke("ImageCollection.reduce", map[string]Value{
		"collection": c,
		"reducer":    reducer,
	})}
}

// Mean is the per-pixel mean composite.
func (c ImageCollection) Mean() Image {
	return Image{n: Invoke("reduce.mean", map[string]Value{"collection": c})}
}

// Sum is the per-pixel sum composite.
func (c ImageCollection) Sum() Image {
	return Image{n: Invoke("reduce.sum", map[string]Value{"collection": c})}
}
