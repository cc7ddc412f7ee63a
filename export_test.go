package tarantool

func SslCreateContext(opts SslOpts) (ctx interface{}, err error) {
	return sslCreateContext(opts)
}

func Scramble(salt, pass string) ([]byte, error) {
	return scramble(salt, pass)
}

func ParseAddress(address string) (string, string) {
	return parseAddress(address)
}

func CheckProtocolInfo(required ProtocolInfo, actual ProtocolInfo) error {
	return checkProtocolInfo(required, actual)
}

// FeedGreeting drives a greeting stage followed by a frame stage, the same
// way a connection reader does.
func FeedGreeting(chunks [][]byte) (Greeting, []Frame, error) {
	var greeting Greeting
	var frames []Frame
	p := newPipeline(
		newGreetingStage(func(g Greeting) { greeting = g }),
		&frameStage{emit: func(f Frame) error {
			frames = append(frames, f)
			return nil
		}},
	)
	for _, chunk := range chunks {
		if err := p.feed(chunk); err != nil {
			return Greeting{}, nil, err
		}
	}
	return greeting, frames, nil
}
