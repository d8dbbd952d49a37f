package tracer

// defaultStackCapacity covers typical call depths without regrowing.
const defaultStackCapacity = 64

// frameStack tracks the open frames of an execution. It assigns sequential
// frame IDs as frames are pushed and maintains the path from the root to the
// active frame.
type frameStack struct {
	frames []*Frame // Open frames, root first
	nextID uint32   // Next frame ID to assign
	path   []uint32 // Current path from root to active frame
	all    []*Frame // Every frame ever pushed, indexed by ID
}

func newFrameStack() *frameStack {
	return &frameStack{
		frames: make([]*Frame, 0, defaultStackCapacity),
		path:   make([]uint32, 0, defaultStackCapacity),
		all:    make([]*Frame, 0, defaultStackCapacity),
	}
}

// push assigns the next ID to f, links it to the current top and makes it the
// new top.
func (s *frameStack) push(f *Frame) {
	f.ID = s.nextID
	f.Depth = len(s.frames)

	if top := s.top(); top != nil {
		f.ParentID = top.ID
	}

	s.frames = append(s.frames, f)
	s.path = append(s.path, f.ID)
	s.all = append(s.all, f)
	s.nextID++

	// Copy path to avoid mutation issues.
	f.Path = s.currentPath()
}

// pop removes and returns the top frame, or nil when the stack is empty.
func (s *frameStack) pop() *Frame {
	if len(s.frames) == 0 {
		return nil
	}

	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]
	s.path = s.path[:len(s.path)-1]

	return f
}

// top returns the active frame, or nil when no frame is open.
func (s *frameStack) top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}

	return s.frames[len(s.frames)-1]
}

// depth returns the number of open frames.
func (s *frameStack) depth() int {
	return len(s.frames)
}

// currentPath returns a copy of the current path.
func (s *frameStack) currentPath() []uint32 {
	pathCopy := make([]uint32, len(s.path))
	copy(pathCopy, s.path)

	return pathCopy
}
