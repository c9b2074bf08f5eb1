package headless

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Image is the CPU storage behind a GPUImage or a back buffer. Every format
// is widened to four float32 channels per texel.
type Image struct {
	Width    uint32
	Height   uint32
	Format   gputypes.TextureFormat
	Texels   [][4]float32
	released bool
}

func newImage(width, height uint32, format gputypes.TextureFormat) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Format: format,
		Texels: make([][4]float32, int(width)*int(height)),
	}
}

func (img *Image) At(x, y uint32) [4]float32 {
	return img.Texels[int(y)*int(img.Width)+int(x)]
}

func (img *Image) Set(x, y uint32, v [4]float32) {
	if metadata.Channels(img.Format) == 1 {
		v = [4]float32{v[0], 0, 0, 1}
	}
	img.Texels[int(y)*int(img.Width)+int(x)] = v
}

func (img *Image) Fill(v [4]float32) {
	for i := range img.Texels {
		img.Texels[i] = v
	}
}

func (img *Image) Clone() *Image {
	c := &Image{Width: img.Width, Height: img.Height, Format: img.Format, Texels: make([][4]float32, len(img.Texels))}
	copy(c.Texels, img.Texels)
	return c
}

func (img *Image) contains(x, y uint32) bool {
	return x < img.Width && y < img.Height
}

// decode fills the image from tightly packed texel bytes.
func (img *Image) decode(data []byte) error {
	bpt, err := metadata.BytesPerTexel(img.Format)
	if err != nil {
		return err
	}
	if want := len(img.Texels) * int(bpt); len(data) != want {
		return fmt.Errorf("image upload expects %d bytes, got %d", want, len(data))
	}
	for i := range img.Texels {
		b := data[i*int(bpt):]
		switch img.Format {
		case gputypes.TextureFormatR32Float:
			img.Texels[i] = [4]float32{math.Float32frombits(binary.LittleEndian.Uint32(b)), 0, 0, 1}
		case gputypes.TextureFormatR32Uint:
			img.Texels[i] = [4]float32{float32(binary.LittleEndian.Uint32(b)), 0, 0, 1}
		case gputypes.TextureFormatRGBA16Float:
			for c := 0; c < 4; c++ {
				img.Texels[i][c] = HalfToFloat32(binary.LittleEndian.Uint16(b[c*2:]))
			}
		case gputypes.TextureFormatRGBA32Float:
			for c := 0; c < 4; c++ {
				img.Texels[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(b[c*4:]))
			}
		case gputypes.TextureFormatRGBA8Unorm:
			img.Texels[i] = [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}
		case gputypes.TextureFormatBGRA8Unorm:
			img.Texels[i] = [4]float32{float32(b[2]) / 255, float32(b[1]) / 255, float32(b[0]) / 255, float32(b[3]) / 255}
		default:
			return fmt.Errorf("cannot decode format %v", img.Format)
		}
	}
	return nil
}

// Encode packs texels in the given format. Used to seed images.
func Encode(format gputypes.TextureFormat, texels [][4]float32) ([]byte, error) {
	bpt, err := metadata.BytesPerTexel(format)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(texels)*int(bpt))
	for i, t := range texels {
		b := out[i*int(bpt):]
		switch format {
		case gputypes.TextureFormatR32Float:
			binary.LittleEndian.PutUint32(b, math.Float32bits(t[0]))
		case gputypes.TextureFormatR32Uint:
			binary.LittleEndian.PutUint32(b, uint32(t[0]))
		case gputypes.TextureFormatRGBA16Float:
			for c := 0; c < 4; c++ {
				binary.LittleEndian.PutUint16(b[c*2:], Float32ToHalf(t[c]))
			}
		case gputypes.TextureFormatRGBA32Float:
			for c := 0; c < 4; c++ {
				binary.LittleEndian.PutUint32(b[c*4:], math.Float32bits(t[c]))
			}
		default:
			return nil, fmt.Errorf("cannot encode format %v", format)
		}
	}
	return out, nil
}

// Quantize rounds v the way storing it in format would.
func Quantize(format gputypes.TextureFormat, v [4]float32) [4]float32 {
	if format != gputypes.TextureFormatRGBA16Float {
		return v
	}
	for c := range v {
		v[c] = HalfToFloat32(Float32ToHalf(v[c]))
	}
	return v
}
