// Package geometry holds the fixed size constants every allocator layer
// is built around (spec.md §3 "Geometry constants").
package geometry

// PageShift is the base-2 exponent of PageSize.
const PageShift = 12

// PageSize is the size in bytes of a single page: 4 KiB.
const PageSize = 1 << PageShift

// SuperpageShift is the base-2 exponent of SuperpageSize.
const SuperpageShift = 21

// SuperpageSize is the size in bytes of a single superpage: 2 MiB.
const SuperpageSize = 1 << SuperpageShift

// PagesPerSuperpage is the number of pages in one superpage.
const PagesPerSuperpage = SuperpageSize / PageSize
