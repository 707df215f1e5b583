package media

// Preview is a small grayscale strip showing every frame of a latent clip
// side by side. It is cheap enough to build on every sampling step.
type Preview struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pix    []byte `json:"pix"`
}

// PreviewFromLatents averages the latent channels of each frame and lays the
// frames out left to right. Values are assumed to be roughly in [-1, 1].
func PreviewFromLatents(c Clip) *Preview {
	if c.Len() == 0 || c.FrameSize() == 0 {
		return nil
	}

	plane := c.Width * c.Height
	p := &Preview{
		Width:  c.Width * c.Len(),
		Height: c.Height,
		Pix:    make([]byte, c.Width*c.Len()*c.Height),
	}
	for t, frame := range c.Frames {
		for y := 0; y < c.Height; y++ {
			for x := 0; x < c.Width; x++ {
				var sum float32
				for ch := 0; ch < c.Channels; ch++ {
					sum += frame[ch*plane+y*c.Width+x]
				}
				p.Pix[y*p.Width+t*c.Width+x] = ToByte(sum / float32(c.Channels))
			}
		}
	}
	return p
}
