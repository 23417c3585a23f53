package catalog

// hours converts right ascension hours to degrees.
func hours(h float64) float64 { return h * 15 }

// messier is the subset of the Messier catalog used for mosaics.
var messier = []Target{
	{Name: "M1", CommonName: "Crab Nebula", Kind: "supernova remnant", Constellation: "Taurus",
		RA: hours(5.575556), Dec: 22.013333, Magnitude: 8.4, WidthArcmin: 6, HeightArcmin: 4,
		Description: "Remains of a supernova observed in 1054 AD"},
	{Name: "M13", CommonName: "Hercules Globular Cluster", Kind: "globular cluster", Constellation: "Hercules",
		RA: hours(16.694898), Dec: 36.461319, Magnitude: 5.8, WidthArcmin: 20, HeightArcmin: 20,
		Description: "Contains several hundred thousand stars"},
	{Name: "M27", CommonName: "Dumbbell Nebula", Kind: "planetary nebula", Constellation: "Vulpecula",
		RA: hours(19.993434), Dec: 22.721198, Magnitude: 7.5, WidthArcmin: 8, HeightArcmin: 5.7,
		Description: "One of the brightest planetary nebulae in the sky"},
	{Name: "M31", CommonName: "Andromeda Galaxy", Kind: "galaxy", Constellation: "Andromeda",
		RA: hours(0.712314), Dec: 41.26875, Magnitude: 3.4, WidthArcmin: 178, HeightArcmin: 63,
		Description: "The nearest major galaxy to the Milky Way"},
	{Name: "M42", CommonName: "Orion Nebula", Kind: "nebula", Constellation: "Orion",
		RA: hours(5.588139), Dec: -5.391111, Magnitude: 4.0, WidthArcmin: 85, HeightArcmin: 60,
		Description: "One of the brightest nebulae visible to the naked eye"},
	{Name: "M45", CommonName: "Pleiades", Kind: "open cluster", Constellation: "Taurus",
		RA: hours(3.773333), Dec: 24.113333, Magnitude: 1.6, WidthArcmin: 110, HeightArcmin: 110,
		Description: "The Seven Sisters, visible to naked eye"},
	{Name: "M51", CommonName: "Whirlpool Galaxy", Kind: "galaxy", Constellation: "Canes Venatici",
		RA: hours(13.497972), Dec: 47.195258, Magnitude: 8.4, WidthArcmin: 11.2, HeightArcmin: 6.9,
		Description: "A classic example of a spiral galaxy"},
	{Name: "M57", CommonName: "Ring Nebula", Kind: "planetary nebula", Constellation: "Lyra",
		RA: hours(18.893082), Dec: 33.029134, Magnitude: 8.8, WidthArcmin: 1.4, HeightArcmin: 1,
		Description: "A classic planetary nebula with a ring-like appearance"},
	{Name: "M81", CommonName: "Bode's Galaxy", Kind: "galaxy", Constellation: "Ursa Major",
		RA: hours(9.925881), Dec: 69.065295, Magnitude: 6.9, WidthArcmin: 26.9, HeightArcmin: 14.1,
		Description: "A grand design spiral galaxy"},
	{Name: "M104", CommonName: "Sombrero Galaxy", Kind: "galaxy", Constellation: "Virgo",
		RA: hours(12.666508), Dec: -11.623052, Magnitude: 8.0, WidthArcmin: 8.7, HeightArcmin: 3.5,
		Description: "A galaxy with a distinctive dust lane like a sombrero"},
}

// testPositions are fields used to check survey coverage.
var testPositions = []Target{
	{Name: "Orion", RA: 83.0, Dec: -5.4, Description: "Orion Nebula region"},
	{Name: "Galactic_Center", RA: 266.4, Dec: -29.0, Description: "Sagittarius A* region"},
	{Name: "Virgo_Center", RA: 186.25, Dec: 12.95, Description: "Center of Virgo galaxy cluster"},
	{Name: "Ursa_Major", RA: 210.0, Dec: 54.0, Description: "Big Dipper region"},
	{Name: "Equator_0h", RA: 0.0, Dec: 0.0, Description: "Celestial equator"},
	{Name: "Equator_12h", RA: 180.0, Dec: 0.0, Description: "Opposite side of sky"},
	{Name: "Andromeda", RA: 23.46, Dec: 30.66, Description: "M31 galaxy region"},
	{Name: "Centaurus", RA: 201.0, Dec: -43.0, Description: "Centaurus constellation"},
}

// Default returns the built-in catalog: a Messier subset followed by the
// survey test positions.
func Default() *Catalog {
	all := make([]Target, 0, len(messier)+len(testPositions))
	all = append(all, messier...)
	all = append(all, testPositions...)
	c, err := New(all)
	if err != nil {
		panic(err)
	}
	return c
}
