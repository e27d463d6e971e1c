package testutil

// maxMutated bounds mutated blobs so one input can't force huge allocations.
const maxMutated = 1 << 20

// Mutate returns a damaged copy of src. It applies 1-8 steps, each one of:
// flip bits, overwrite a range, truncate, append, insert a run, or duplicate
// a range elsewhere. src is not modified.
func Mutate(src []byte, stream *ByteStream) []byte {
	mut := append([]byte(nil), src...)

	steps := 1 + int(stream.NextByte()%8)

	for range steps {
		if len(mut) == 0 {
			mut = append(mut, 0)
		}

		switch stream.NextByte() % 6 {
		case 0: // flip bits
			off := int(stream.NextUint32()) % len(mut)
			end := min(off+1+int(stream.NextByte()%32), len(mut))

			mask := byte(1 << (stream.NextByte() % 8))
			for i := off; i < end; i++ {
				mut[i] ^= mask
			}

		case 1: // overwrite
			off := int(stream.NextUint32()) % len(mut)
			end := min(off+1+int(stream.NextByte()%64), len(mut))

			for i := off; i < end; i++ {
				mut[i] = stream.NextByte()
			}

		case 2: // truncate
			mut = mut[:int(stream.NextUint32())%(len(mut)+1)]

		case 3: // append
			for range 1 + int(stream.NextByte()%128) {
				mut = append(mut, stream.NextByte())
			}

		case 4: // insert
			off := int(stream.NextUint32()) % (len(mut) + 1)
			insert := stream.NextBytes(1 + int(stream.NextByte()%32))
			mut = append(mut[:off], append(insert, mut[off:]...)...)

		case 5: // duplicate
			if len(mut) < 2 {
				continue
			}

			from := int(stream.NextUint32()) % len(mut)
			to := int(stream.NextUint32()) % (len(mut) + 1)
			end := min(from+1+int(stream.NextByte()%32), len(mut))
			chunk := append([]byte(nil), mut[from:end]...)
			mut = append(mut[:to], append(chunk, mut[to:]...)...)
		}

		if len(mut) > maxMutated {
			mut = mut[:maxMutated]
		}
	}

	return mut
}
