package process

import (
	"io"
	"iter"
	"os"
	"strings"
)

const chunkSize = 32 * 1024

// chunks yields successive reads from r until EOF or a read error. The
// yielded slice is reused between iterations; consumers must copy it.
func chunks(r io.Reader) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		buf := make([]byte, chunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 && !yield(buf[:n]) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// forward drains seq, capturing every chunk and handing it to emit as it arrives.
func forward(seq iter.Seq[[]byte], capture io.Writer, emit func([]byte)) {
	for chunk := range seq {
		_, _ = capture.Write(chunk)
		emit(chunk)
	}
}

// sinks returns the per-stream emitters: the logger when one is set,
// otherwise pass-through writers.
func sinks(opts Options) (stdout, stderr func([]byte)) {
	if opts.Log != nil {
		log := opts.Log
		stdout = func(p []byte) {
			if msg := chunkText(p); msg != "" {
				log.Debug(msg)
			}
		}
		stderr = func(p []byte) {
			if msg := chunkText(p); msg != "" {
				log.Error(msg)
			}
		}
		return stdout, stderr
	}

	outW, errW := opts.Stdout, opts.Stderr
	if outW == nil {
		outW = os.Stdout
	}
	if errW == nil {
		errW = os.Stderr
	}
	stdout = func(p []byte) { _, _ = outW.Write(p) }
	stderr = func(p []byte) { _, _ = errW.Write(p) }
	return stdout, stderr
}

// chunkText drops the trailing line break a log record adds on its own.
func chunkText(p []byte) string {
	return strings.TrimRight(string(p), "\r\n")
}
