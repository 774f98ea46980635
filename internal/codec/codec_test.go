package codec

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUint64(t *testing.T) {
	Convey("Given a set of big-endian payloads", t, func() {
		tests := []struct {
			in       []byte
			expected uint64
		}{
			{nil, 0},
			{[]byte{0x2a}, 42},
			{[]byte{0x01, 0x02}, 258},
			{[]byte{0x65, 0x53, 0xf1, 0x00}, 1700000000},
			{[]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 18446744073709551615},
		}

		for i, tst := range tests {
			Convey(fmt.Sprintf("Then decoding payload %d returns %d", i, tst.expected), func() {
				v, err := Uint64(tst.in)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, tst.expected)
			})
		}

		Convey("Then more than 8 bytes returns ErrOverflow", func() {
			_, err := Uint64(make([]byte, 9))
			So(errors.Cause(err), ShouldEqual, ErrOverflow)
		})
	})
}

func TestBigInt(t *testing.T) {
	Convey("Given a 10 byte payload", t, func() {
		b := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}

		Convey("Then BigInt decodes it without truncation", func() {
			expected := new(big.Int).Lsh(big.NewInt(1), 72)
			expected.Add(expected, big.NewInt(2))
			So(BigInt(b).Cmp(expected), ShouldEqual, 0)
		})
	})
}

func TestWords(t *testing.T) {
	Convey("Given payloads of even and odd length", t, func() {
		Convey("Then an even payload yields n/2 words", func() {
			So(Words([]byte{0x00, 0x3c, 0x01, 0x2c}), ShouldResemble, []uint16{60, 300})
		})

		Convey("Then an odd payload pads the last word", func() {
			So(Words([]byte{0x00, 0x3c, 0x05}), ShouldResemble, []uint16{60, 0x0500})
		})

		Convey("Then an empty payload yields no words", func() {
			So(Words(nil), ShouldHaveLength, 0)
		})

		Convey("Then AppendWords reverses Words", func() {
			words := []uint16{1, 0xabcd, 65535}
			So(Words(AppendWords(nil, words...)), ShouldResemble, words)
		})
	})
}

func TestPutUint(t *testing.T) {
	Convey("Given an epoch value", t, func() {
		Convey("Then it encodes to 4 big-endian bytes", func() {
			b, err := PutUint(1700000000, 4)
			So(err, ShouldBeNil)
			So(b, ShouldResemble, []byte{0x65, 0x53, 0xf1, 0x00})

			v, err := Uint64(b)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 1700000000)
		})

		Convey("Then a too small size returns ErrOverflow", func() {
			_, err := PutUint(256, 1)
			So(errors.Cause(err), ShouldEqual, ErrOverflow)
		})

		Convey("Then an invalid size returns an error", func() {
			_, err := PutUint(1, 9)
			So(err, ShouldNotBeNil)
		})
	})
}
