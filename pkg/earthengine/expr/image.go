package expr

// Image is a handle to a server-side multi-band raster.
type Image struct {
	n *Node
}

// Node implements Value.
func (i Image) Node() *Node { return i.n }

// LoadImage references a catalog image by id.
func LoadImage(id string) Image {
	return Image{n: Invoke("Image.load", map[string]Value{"id": Constant(id)})}
}

// Scalar is an image with one constant-valued band.
func Scalar(v float64) Image {
	return Image{n: Invoke("Image.constant", map[string]Value{"value": Constant(v)})}
}

// NumberImage promotes a server-side number to a constant image.
func NumberImage(v Number) Image {
	return Image{n: Invoke("Image.constant", map[string]Value{"value": v})}
}

func (i Image) call(function string, args map[string]Value) Image {
	return Image{n: Invoke(function, args)}
}

func (i Image) binary(function string, other Image) Image {
	return i.call(function, map[string]Value{"image1": i, "image2": other})
}

// Select keeps the bands matching the given selectors (names or regexes).
func (i Image) Select(bands ...string) Image {
	return i.call("Image.select", map[string]Value{
		"input":         i,
		"bandSelectors": Strings(bands...),
	})
}

// Rename sets new band names positionally.
func (i Image) Rename(names ...string) Image {
	return i.call("Image.rename", map[string]Value{
		"input": i,
		"names": Strings(names...),
	})
}

// AddBands appends the bands of src.
func (i Image) AddBands(src Image) Image {
	return i.call("Image.addBands", map[string]Value{"dstImg": i, "srcImg": src})
}

// UpdateMask masks out pixels where mask is zero.
func (i Image) UpdateMask(mask Image) Image {
	return i.call("Image.updateMask", map[string]Value{"image": i, "mask": mask})
}

// Clip restricts the image to geometry.
func (i Image) Clip(geometry Geometry) Image {
	return i.call("Image.clip", map[string]Value{"input": i, "geometry": geometry})
}

// ClipToBoundsAndScale clips to geometry and resamples to scale metres.
// Exports wrap their image in this call.
func (i Image) ClipToBoundsAndScale(geometry Geometry, scale float64) Image {
	return i.call("Image.clipToBoundsAndScale", map[string]Value{
		"input":    i,
		"geometry": geometry,
		"scale":    Constant(scale),
	})
}

// NormalizedDifference computes (a - b) / (a + b).
func (i Image) NormalizedDifference(a, b string) Image {
	return i.call("Image.normalizedDifference", map[string]Value{
		"input":     i,
		"bandNames": Strings(a, b),
	})
}

// Add returns i + other, per pixel.
func (i Image) Add(other Image) Image { return i.binary("Image.add", other) }

// Subtract returns i - other, per pixel.
func (i Image) Subtract(other Image) Image { return i.binary("Image.subtract", other) }

// Multiply returns i * other, per pixel.
func (i Image) Multiply(other Image) Image { return i.binary("Image.multiply", other) }

// Divide returns i / other, per pixel.
func (i Image) Divide(other Image) Image { return i.binary("Image.divide", other) }

// Eq returns 1 where i == other.
func (i Image) Eq(other Image) Image { return i.binary("Image.eq", other) }

// And returns 1 where both inputs are non-zero.
func (i Image) And(other Image) Image { return i.binary("Image.and", other) }

// BitwiseAnd returns the bitwise AND of the inputs.
func (i Image) BitwiseAnd(other Image) Image { return i.binary("Image.bitwiseAnd", other) }

// Scale returns i * mul + add.
func (i Image) Scale(mul, add float64) Image {
	return i.Multiply(Scalar(mul)).Add(Scalar(add))
}

// Sqrt returns the per-pixel square root.
func (i Image) Sqrt() Image {
	return i.call("Image.sqrt", map[string]Value{"value": i})
}

// Exp returns the per-pixel exponential.
func (i Image) Exp() Image {
	return i.call("Image.exp", map[string]Value{"value": i})
}

// ToFloat casts every band to 32-bit float.
func (i Image) ToFloat() Image {
	return i.call("Image.toFloat", map[string]Value{"value": i})
}

// Set returns a copy of the image with a metadata property set.
func (i Image) Set(key string, value Value) Image {
	return i.call("Element.set", map[string]Value{
		"object": i,
		"key":    Constant(key),
		"value":  value,
	})
}

// Get reads a metadata property.
func (i Image) Get(property string) Computed {
	return Computed{n: Invoke("Element.get", map[string]Value{
		"object":   i,
		"property": Constant(property),
	})}
}

// Date returns the acquisition date, read from system:time_start.
func (i Image) Date() Date {
	return NewDate(i.Get("system:time_start"))
}

// Footprint returns the image geometry.
func (i Image) Footprint() Geometry {
	return Geometry{n: Invoke("Element.geometry", map[string]Value{"feature": i})}
}

// ReduceRegion applies reducer to all pixels inside geometry.
// A zero maxPixels leaves the service default in place.
func (i Image) ReduceRegion(reducer Reducer, geometry Geometry, scale, maxPixels float64) Dictionary {
	args := map[string]Value{
		"image":    i,
		"reducer":  reducer,
		"geometry": geometry,
		"scale":    Constant(scale),
	}
	if maxPixels > 0 {
		args["maxPixels"] = Constant(maxPixels)
	}
	return Dictionary{n: Invoke("Image.reduceRegion", args)}
}
