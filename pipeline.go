package tarantool

// stage is one step of the inbound pipeline of a connection.
type stage interface {
	// consume feeds p to the stage. It returns the bytes the stage did not
	// use and whether the stage is finished and must leave the pipeline.
	consume(p []byte) (rest []byte, done bool, err error)
}

// pipeline is an ordered list of active inbound stages. It is driven by the
// connection reader only and needs no locking.
type pipeline struct {
	stages []stage
}

func newPipeline(stages ...stage) *pipeline {
	return &pipeline{stages: stages}
}

func (p *pipeline) feed(data []byte) error {
	for len(data) > 0 && len(p.stages) > 0 {
		rest, done, err := p.stages[0].consume(data)
		if err != nil {
			return err
		}
		if done {
			p.stages = p.stages[1:]
		}
		data = rest
	}
	return nil
}
