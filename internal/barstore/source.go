package barstore

// Closes is a read-only view of the close prices, indexed like the store.
type Closes struct{ s *Store }

// VolumeValues is a read-only view of the volume values, indexed like the store.
type VolumeValues struct{ s *Store }

// Closes returns the close-price view.
func (s *Store) Closes() Closes { return Closes{s: s} }

// VolumeValues returns the volume-value view.
func (s *Store) VolumeValues() VolumeValues { return VolumeValues{s: s} }

func (c Closes) Len() int                  { return c.s.Len() }
func (c Closes) Time(i int) int64          { return c.s.At(i).Time }
func (c Closes) Value(i int) float64       { return c.s.At(i).Close }
func (v VolumeValues) Len() int            { return v.s.Len() }
func (v VolumeValues) Time(i int) int64    { return v.s.VolumeAt(i).Time }
func (v VolumeValues) Value(i int) float64 { return v.s.VolumeAt(i).Value }
