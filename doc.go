/*
Package voltpipe runs a segment of the correlator voltage recording
pipeline.

# Concept

The pipe consists of independent stages connected with shared memory ring
buffers:

	generator -> input ring -> strip -> strip ring -> writer -> files

Generator stands in for the network receiver and fills input blocks with a
synthetic pattern. Strip keeps the first channels of every input block and
reorders them for the writer. Writer stores strip blocks into fixed shape
files and starts a new file when the current one is full.

Stages never call each other. Every stage runs in its own goroutine and
only waits for the state of ring blocks to change. Producer of the ring
waits until the block is free, fills it and marks it filled. Consumer
waits until the block is filled, reads it and marks it free.

# Stages

Stages are instantiated with allocator functions kept in the Registry.
The driver builds the registry explicitly and picks stages by name:

	reg := voltpipe.Registry{}
	reg.Register("generator", generator.Allocator(generator.Config{}))
	reg.Register("strip", strip.Allocator())
	reg.Register("writer", writer.Allocator(writer.Config{Dir: "."}))
	p, err := voltpipe.New(rings, reg, []string{"generator", "strip", "writer"})

Every stage implements Start, Execute and Flush. Execute is called in the
loop until it returns an error. io.EOF stops the stage without error.

# Execution

Run starts all stages and returns a Runner. The first stage error cancels
the context of all other stages. Cancelled stages finish the block in
flight and stop at the next wait.
*/
package voltpipe
