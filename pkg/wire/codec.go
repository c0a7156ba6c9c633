package wire

import "io"

// Encoder writes a sequence of wire values and remembers the first error,
// so a message body can be written without checking every field.
type Encoder struct {
	w   io.Writer
	err error
}

// NewEncoder returns an Encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) Uint32(v uint32) {
	if e.err == nil {
		e.err = WriteUint32(e.w, v)
	}
}

func (e *Encoder) String(s string) {
	if e.err == nil {
		e.err = WriteString(e.w, s)
	}
}

func (e *Encoder) StringList(l []string) {
	if e.err == nil {
		e.err = WriteStringList(e.w, l)
	}
}

// Compressed writes a compressed payload and returns its compressed size.
func (e *Encoder) Compressed(data []byte) int {
	if e.err != nil {
		return 0
	}
	n, err := WriteCompressed(e.w, data)
	e.err = err
	return n
}

// Decoder is the reading counterpart of Encoder. After the first failure
// every further read returns the zero value and Err reports the failure.
type Decoder struct {
	r   io.Reader
	err error
}

// NewDecoder returns a Decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Err returns the first error encountered
func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) Uint32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := ReadUint32(d.r)
	d.err = err
	return v
}

func (d *Decoder) String() string {
	if d.err != nil {
		return ""
	}
	s, err := ReadString(d.r)
	d.err = err
	return s
}

func (d *Decoder) StringList() []string {
	if d.err != nil {
		return nil
	}
	l, err := ReadStringList(d.r)
	d.err = err
	return l
}

// Compressed reads a compressed payload, returning the data and the
// compressed size.
func (d *Decoder) Compressed() ([]byte, int) {
	if d.err != nil {
		return nil, 0
	}
	data, n, err := ReadCompressed(d.r)
	d.err = err
	return data, n
}
