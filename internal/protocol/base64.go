package protocol

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Base64 encodes bin the way the director's bin_to_base64 does: no padding,
// and unless compatible is set each input byte is sign extended before it
// is shifted in. The legacy form is what directors without cram-md5c expect.
func Base64(bin []byte, compatible bool) string {
	out := make([]byte, 0, (len(bin)*8+5)/6)

	var reg uint32
	rem := 0
	for i := 0; i < len(bin); {
		if rem < 6 {
			reg <<= 8
			if compatible {
				reg |= uint32(bin[i])
			} else {
				reg |= uint32(int32(int8(bin[i])))
			}
			i++
			rem += 8
		}
		out = append(out, base64Digits[(reg>>(rem-6))&0x3f])
		rem -= 6
	}

	if rem > 0 {
		mask := uint32(1)<<rem - 1
		if compatible {
			out = append(out, base64Digits[(reg&mask)<<(6-rem)])
		} else {
			out = append(out, base64Digits[reg&mask])
		}
	}
	return string(out)
}
