package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBytes(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})).To(Succeed())
	return buf.Bytes()
}

func pngBytes(img image.Image) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("capturePages", func() {
	var (
		data        []byte
		contentType string
		pages       [][]byte
		err         error
	)

	JustBeforeEach(func() {
		pages, err = capturePages(data, contentType, MaxPageLimit)
	})

	When("the capture is a JPEG", func() {
		BeforeEach(func() {
			data = jpegBytes(solidImage(8, 8, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
			contentType = "image/jpeg"
		})

		It("should keep the bytes unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(pages[0]).To(Equal(data))
		})
	})

	When("the capture is a PNG", func() {
		BeforeEach(func() {
			data = pngBytes(solidImage(8, 6, color.RGBA{R: 200, G: 200, B: 200, A: 255}))
			contentType = "image/png"
		})

		It("should convert it to a JPEG page", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(isJPEGFormat(pages[0])).To(BeTrue())

			img, err := jpeg.Decode(bytes.NewReader(pages[0]))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(8))
			Expect(img.Bounds().Dy()).To(Equal(6))
		})
	})

	When("the content type is missing", func() {
		BeforeEach(func() {
			data = jpegBytes(solidImage(4, 4, color.White))
			contentType = ""
		})

		It("should sniff the JPEG data", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(pages[0]).To(Equal(data))
		})
	})

	When("the capture is not an image", func() {
		BeforeEach(func() {
			data = []byte("definitely not an image")
			contentType = "image/png"
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect HEIC brands", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("should reject JPEG data", func() {
		Expect(isHEICFormat(jpegBytes(solidImage(4, 4, color.White)))).To(BeFalse())
	})

	It("should reject short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})
})

var _ = Describe("normalizeMimeType", func() {
	It("should strip parameters and lowercase", func() {
		Expect(normalizeMimeType("Image/PNG; charset=binary", nil)).To(Equal("image/png"))
	})

	It("should sniff PDFs sent as octet-stream", func() {
		Expect(normalizeMimeType("application/octet-stream", []byte("%PDF-1.7"))).To(Equal("application/pdf"))
	})
})

var _ = Describe("cropToBounds", func() {
	It("should crop to the normalized region", func() {
		img := solidImage(200, 100, color.White)
		cropped := cropToBounds(img, Bounds{YMin: 100, XMin: 250, YMax: 600, XMax: 750})
		Expect(cropped.Bounds().Dx()).To(Equal(100))
		Expect(cropped.Bounds().Dy()).To(Equal(50))
	})

	It("should leave the image alone for an empty region", func() {
		img := solidImage(20, 20, color.White)
		Expect(cropToBounds(img, Bounds{YMin: 500, XMin: 500, YMax: 500, XMax: 500})).To(BeIdenticalTo(img))
	})
})

var _ = Describe("grayscale", func() {
	It("should produce equal channels", func() {
		img := grayscale(solidImage(2, 2, color.RGBA{R: 255, G: 0, B: 0, A: 255}))
		r, g, b, _ := img.At(0, 0).RGBA()
		Expect(r).To(Equal(g))
		Expect(g).To(Equal(b))
	})
})
