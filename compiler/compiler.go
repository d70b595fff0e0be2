package compiler

import (
	"fmt"
	"strconv"

	"github.com/chazu/perch/vm"
)

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Diagnostic is a single compile error with its source location.
type Diagnostic struct {
	Line    int
	At      string // " at 'lexeme'", " at end", or "" for lexer errors
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Line, d.At, d.Message)
}

// ---------------------------------------------------------------------------
// Compiler state
// ---------------------------------------------------------------------------

// functionKind distinguishes the flavors of function bodies being compiled.
type functionKind int

const (
	kindScript functionKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

// Per-function limits imposed by one-byte operand encodings.
const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxArity     = 255
	maxJump      = 0xFFFF
)

// local tracks a declared local variable during compilation. depth == -1
// marks a variable that is declared but not yet initialized.
type local struct {
	name       Token
	depth      int
	isCaptured bool
}

// upvalueDesc describes one captured variable: either a local of the
// enclosing function or one of the enclosing function's own upvalues.
type upvalueDesc struct {
	index   uint8
	isLocal bool
}

// funcState is one entry of the compiler-state stack: the function under
// construction plus its scope bookkeeping.
type funcState struct {
	enclosing *funcState
	function  *vm.FunctionObject
	kind      functionKind

	locals     []local
	scopeDepth int
	upvalues   []upvalueDesc
}

// classState tracks the innermost class declaration being compiled.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// compiler fuses the Pratt parser with the bytecode emitter. Parsing an
// expression emits its code immediately; there is no AST.
type compiler struct {
	lexer    *Lexer
	machine  *vm.VM
	current  Token
	previous Token

	hadError  bool
	panicMode bool
	diags     []Diagnostic

	fn    *funcState
	class *classState
}

// Compile turns source text into a top-level function. On error the function
// is nil and the diagnostics describe every independent error found.
func Compile(source string, machine *vm.VM) (*vm.FunctionObject, []Diagnostic) {
	c := &compiler{
		lexer:   NewLexer(source),
		machine: machine,
	}

	// The collector must see functions under construction.
	machine.SetCompilerRoots(c.roots)
	defer machine.SetCompilerRoots(nil)

	c.beginFunction(kindScript)

	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	fn := c.endFunction()

	if c.hadError {
		return nil, c.diags
	}
	return fn, nil
}

// roots reports every function on the compiler-state stack, innermost
// outward, for the GC.
func (c *compiler) roots() []vm.Object {
	var out []vm.Object
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		out = append(out, fs.function)
	}
	return out
}

// beginFunction pushes a new compiler-state entry. Slot 0 is reserved for
// the callee: it is named "this" inside methods and unnamed elsewhere.
func (c *compiler) beginFunction(kind functionKind) {
	fs := &funcState{
		enclosing: c.fn,
		function:  c.machine.NewFunction(),
		kind:      kind,
		locals:    make([]local, 0, 8),
	}
	// Root the new function before interning its name: the interning
	// allocation may collect.
	c.fn = fs

	if kind != kindScript {
		fs.function.Name = c.machine.InternString(c.previous.Lexeme)
	}
	if kind == kindInitializer {
		fs.function.IsInitializer = true
	}

	slotZero := local{depth: 0}
	if kind == kindMethod || kind == kindInitializer {
		slotZero.name = Token{Type: TokenThis, Lexeme: "this"}
	}
	fs.locals = append(fs.locals, slotZero)
}

// endFunction emits the implicit return and pops the compiler-state entry.
// The chunk grew in place while this entry was current, so its final size is
// reported to the allocator here, while the function is still rooted.
func (c *compiler) endFunction() *vm.FunctionObject {
	c.emitReturn()
	fn := c.fn.function
	fn.UpvalueCount = len(c.fn.upvalues)
	c.machine.Reallocated(fn)
	c.fn = c.fn.enclosing
	return fn
}

// ---------------------------------------------------------------------------
// Token plumbing
// ---------------------------------------------------------------------------

func (c *compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lexer.NextToken()
		if c.current.Type != TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *compiler) consume(t TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *compiler) check(t TokenType) bool {
	return c.current.Type == t
}

func (c *compiler) match(t TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

// ---------------------------------------------------------------------------
// Error reporting and recovery
// ---------------------------------------------------------------------------

func (c *compiler) errorAt(token Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	d := Diagnostic{Line: token.Line, Message: message}
	switch token.Type {
	case TokenEOF:
		d.At = " at end"
	case TokenError:
		// The lexeme is the lexer's message, not source text.
	default:
		d.At = fmt.Sprintf(" at '%s'", token.Lexeme)
	}
	c.diags = append(c.diags, d)
	c.hadError = true
}

func (c *compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// synchronize discards tokens until a statement boundary so one mistake does
// not cascade.
func (c *compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor,
			TokenIf, TokenWhile, TokenPrint, TokenReturn:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *compiler) currentChunk() *vm.Chunk {
	return &c.fn.function.Chunk
}

func (c *compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *compiler) emitOp(op vm.Opcode) {
	c.emitByte(byte(op))
}

func (c *compiler) emitOps(op vm.Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *compiler) emitReturn() {
	if c.fn.kind == kindInitializer {
		c.emitOps(vm.OpGetLocal, 0)
	} else {
		c.emitOp(vm.OpNil)
	}
	c.emitOp(vm.OpReturn)
}

func (c *compiler) makeConstant(v vm.Value) byte {
	index := c.currentChunk().AddConstant(v)
	if index >= maxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(index)
}

func (c *compiler) emitConstant(v vm.Value) {
	c.emitOps(vm.OpConstant, c.makeConstant(v))
}

// emitJump writes a forward jump with a placeholder offset, returning the
// offset of the placeholder for patchJump.
func (c *compiler) emitJump(op vm.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.currentChunk().Code) - 2
}

func (c *compiler) patchJump(offset int) {
	// -2 adjusts for the operand bytes themselves.
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > maxJump {
		c.error("Too much code to jump over.")
	}
	vm.PutU16(c.currentChunk().Code, offset, uint16(jump))
}

func (c *compiler) emitLoop(loopStart int) {
	c.emitOp(vm.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---------------------------------------------------------------------------
// Variable resolution
// ---------------------------------------------------------------------------

func (c *compiler) identifierConstant(name Token) byte {
	return c.makeConstant(vm.FromObject(c.machine.InternString(name.Lexeme)))
}

func identifiersEqual(a, b Token) bool {
	return a.Lexeme == b.Lexeme
}

// resolveLocal finds a local by name in the given function, innermost
// declaration first. Returns -1 when the name is not a local there.
func (c *compiler) resolveLocal(fs *funcState, name Token) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := &fs.locals[i]
		if identifiersEqual(name, l.name) {
			if l.depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue appends an upvalue descriptor, deduplicating repeats.
func (c *compiler) addUpvalue(fs *funcState, index uint8, isLocal bool) int {
	for i, u := range fs.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}

// resolveUpvalue looks for name in the enclosing functions. A hit on an
// enclosing local marks that local captured and records a local descriptor;
// a hit further out chains through the enclosing function's upvalues.
func (c *compiler) resolveUpvalue(fs *funcState, name Token) int {
	if fs.enclosing == nil {
		return -1
	}

	if localIdx := c.resolveLocal(fs.enclosing, name); localIdx != -1 {
		fs.enclosing.locals[localIdx].isCaptured = true
		return c.addUpvalue(fs, uint8(localIdx), true)
	}

	if upvalueIdx := c.resolveUpvalue(fs.enclosing, name); upvalueIdx != -1 {
		return c.addUpvalue(fs, uint8(upvalueIdx), false)
	}

	return -1
}

func (c *compiler) addLocal(name Token) {
	if len(c.fn.locals) == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1})
}

// declareVariable records a new local in the current scope. Globals are late
// bound and need no declaration record.
func (c *compiler) declareVariable() {
	if c.fn.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := &c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if identifiersEqual(name, l.name) {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *compiler) parseVariable(errorMessage string) byte {
	c.consume(TokenIdentifier, errorMessage)
	c.declareVariable()
	if c.fn.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *compiler) defineVariable(global byte) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOps(vm.OpDefineGlobal, global)
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (c *compiler) beginScope() {
	c.fn.scopeDepth++
}

// endScope pops the scope's locals, closing any that were captured.
func (c *compiler) endScope() {
	c.fn.scopeDepth--
	for len(c.fn.locals) > 0 {
		l := &c.fn.locals[len(c.fn.locals)-1]
		if l.depth <= c.fn.scopeDepth {
			break
		}
		if l.isCaptured {
			c.emitOp(vm.OpCloseUpvalue)
		} else {
			c.emitOp(vm.OpPop)
		}
		c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
	}
}

// ---------------------------------------------------------------------------
// Pratt parser
// ---------------------------------------------------------------------------

// precedence runs lowest to highest; parsePrecedence consumes everything at
// or above the requested level.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[TokenType]parseRule

func init() {
	rules = map[TokenType]parseRule{
		TokenLParen:       {grouping, callExpr, precCall},
		TokenDot:          {nil, dot, precCall},
		TokenMinus:        {unary, binary, precTerm},
		TokenPlus:         {nil, binary, precTerm},
		TokenSlash:        {nil, binary, precFactor},
		TokenStar:         {nil, binary, precFactor},
		TokenBang:         {unary, nil, precNone},
		TokenBangEqual:    {nil, binary, precEquality},
		TokenEqualEqual:   {nil, binary, precEquality},
		TokenGreater:      {nil, binary, precComparison},
		TokenGreaterEqual: {nil, binary, precComparison},
		TokenLess:         {nil, binary, precComparison},
		TokenLessEqual:    {nil, binary, precComparison},
		TokenIdentifier:   {variable, nil, precNone},
		TokenString:       {stringLiteral, nil, precNone},
		TokenNumber:       {number, nil, precNone},
		TokenAnd:          {nil, andExpr, precAnd},
		TokenOr:           {nil, orExpr, precOr},
		TokenFalse:        {literal, nil, precNone},
		TokenNil:          {literal, nil, precNone},
		TokenTrue:         {literal, nil, precNone},
		TokenSuper:        {superExpr, nil, precNone},
		TokenThis:         {thisExpr, nil, precNone},
	}
}

func getRule(t TokenType) parseRule {
	return rules[t]
}

// parsePrecedence parses any expression whose operators bind at least as
// tightly as prec. Assignment targets are only legal when the surrounding
// precedence permits, signaled to parselets through canAssign.
func (c *compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).prec {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *compiler) expression() {
	c.parsePrecedence(precAssignment)
}

// ---------------------------------------------------------------------------
// Expression parselets
// ---------------------------------------------------------------------------

func number(c *compiler, canAssign bool) {
	value, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(vm.FromNumber(value))
}

func stringLiteral(c *compiler, canAssign bool) {
	// Trim the surrounding quotes.
	chars := c.previous.Lexeme[1 : len(c.previous.Lexeme)-1]
	c.emitConstant(vm.FromObject(c.machine.InternString(chars)))
}

func literal(c *compiler, canAssign bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(vm.OpFalse)
	case TokenNil:
		c.emitOp(vm.OpNil)
	case TokenTrue:
		c.emitOp(vm.OpTrue)
	}
}

func grouping(c *compiler, canAssign bool) {
	c.expression()
	c.consume(TokenRParen, "Expect ')' after expression.")
}

func unary(c *compiler, canAssign bool) {
	operator := c.previous.Type
	c.parsePrecedence(precUnary)
	switch operator {
	case TokenBang:
		c.emitOp(vm.OpNot)
	case TokenMinus:
		c.emitOp(vm.OpNegate)
	}
}

func binary(c *compiler, canAssign bool) {
	operator := c.previous.Type
	rule := getRule(operator)
	c.parsePrecedence(rule.prec + 1)

	switch operator {
	case TokenBangEqual:
		c.emitOp(vm.OpEqual)
		c.emitOp(vm.OpNot)
	case TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case TokenGreater:
		c.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		c.emitOp(vm.OpLess)
		c.emitOp(vm.OpNot)
	case TokenLess:
		c.emitOp(vm.OpLess)
	case TokenLessEqual:
		c.emitOp(vm.OpGreater)
		c.emitOp(vm.OpNot)
	case TokenPlus:
		c.emitOp(vm.OpAdd)
	case TokenMinus:
		c.emitOp(vm.OpSubtract)
	case TokenStar:
		c.emitOp(vm.OpMultiply)
	case TokenSlash:
		c.emitOp(vm.OpDivide)
	}
}

// andExpr short-circuits: the right operand only runs when the left is
// truthy, and the result is whichever operand decided.
func andExpr(c *compiler, canAssign bool) {
	endJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func orExpr(c *compiler, canAssign bool) {
	elseJump := c.emitJump(vm.OpJumpIfFalse)
	endJump := c.emitJump(vm.OpJump)
	c.patchJump(elseJump)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

// namedVariable compiles a read or, when followed by '=' in assignment
// position, a write of the named variable. Resolution order: local,
// upvalue, then late-bound global.
func (c *compiler) namedVariable(name Token, canAssign bool) {
	var getOp, setOp vm.Opcode
	arg := c.resolveLocal(c.fn, name)
	switch {
	case arg != -1:
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
	default:
		if arg = c.resolveUpvalue(c.fn, name); arg != -1 {
			getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
		} else {
			arg = int(c.identifierConstant(name))
			getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
		}
	}

	if canAssign && c.match(TokenEqual) {
		c.expression()
		c.emitOps(setOp, byte(arg))
	} else {
		c.emitOps(getOp, byte(arg))
	}
}

func variable(c *compiler, canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func callExpr(c *compiler, canAssign bool) {
	argCount := c.argumentList()
	c.emitOps(vm.OpCall, argCount)
}

func dot(c *compiler, canAssign bool) {
	c.consume(TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous)

	switch {
	case canAssign && c.match(TokenEqual):
		c.expression()
		c.emitOps(vm.OpSetProperty, name)
	case c.match(TokenLParen):
		argCount := c.argumentList()
		c.emitOps(vm.OpInvoke, name)
		c.emitByte(argCount)
	default:
		c.emitOps(vm.OpGetProperty, name)
	}
}

func thisExpr(c *compiler, canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	variable(c, false)
}

// superExpr compiles super.name and super.name(args). The receiver ('this')
// and the superclass (the synthetic 'super' local) are both loaded so the
// VM can bind or invoke against the superclass's method table.
func superExpr(c *compiler, canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(TokenDot, "Expect '.' after 'super'.")
	c.consume(TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous)

	c.namedVariable(Token{Type: TokenThis, Lexeme: "this"}, false)
	if c.match(TokenLParen) {
		argCount := c.argumentList()
		c.namedVariable(Token{Type: TokenSuper, Lexeme: "super"}, false)
		c.emitOps(vm.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable(Token{Type: TokenSuper, Lexeme: "super"}, false)
		c.emitOps(vm.OpGetSuper, name)
	}
}

func (c *compiler) argumentList() byte {
	argCount := 0
	if !c.check(TokenRParen) {
		for {
			c.expression()
			if argCount == maxArity {
				c.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRParen, "Expect ')' after arguments.")
	return byte(argCount)
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (c *compiler) declaration() {
	switch {
	case c.match(TokenClass):
		c.classDeclaration()
	case c.match(TokenFun):
		c.funDeclaration()
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")

	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")

	c.defineVariable(global)
}

func (c *compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// A function may refer to itself; it is initialized before its body.
	c.markInitialized()
	c.compileFunction(kindFunction)
	c.defineVariable(global)
}

// compileFunction compiles a parameter list and body in a fresh compiler
// frame and emits the closure into the enclosing chunk.
func (c *compiler) compileFunction(kind functionKind) {
	c.beginFunction(kind)
	c.beginScope()

	c.consume(TokenLParen, "Expect '(' after function name.")
	if !c.check(TokenRParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > maxArity {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRParen, "Expect ')' after parameters.")
	c.consume(TokenLBrace, "Expect '{' before function body.")
	c.block()

	upvalues := c.fn.upvalues
	fn := c.endFunction()

	c.emitOps(vm.OpClosure, c.makeConstant(vm.FromObject(fn)))
	for _, u := range upvalues {
		if u.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(u.index)
	}
}

func (c *compiler) method() {
	c.consume(TokenIdentifier, "Expect method name.")
	constant := c.identifierConstant(c.previous)

	kind := kindMethod
	if c.previous.Lexeme == "init" {
		kind = kindInitializer
	}
	c.compileFunction(kind)
	c.emitOps(vm.OpMethod, constant)
}

func (c *compiler) classDeclaration() {
	c.consume(TokenIdentifier, "Expect class name.")
	className := c.previous
	nameConstant := c.identifierConstant(c.previous)
	c.declareVariable()

	c.emitOps(vm.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	c.class = &classState{enclosing: c.class}

	if c.match(TokenLess) {
		c.consume(TokenIdentifier, "Expect superclass name.")
		variable(c, false)
		if identifiersEqual(className, c.previous) {
			c.error("A class can't inherit from itself.")
		}

		// The superclass lives in a synthetic 'super' local so methods can
		// reach it after the declaration ends.
		c.beginScope()
		c.addLocal(Token{Type: TokenSuper, Lexeme: "super"})
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(vm.OpInherit)
		c.class.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(TokenLBrace, "Expect '{' before class body.")
	for !c.check(TokenRBrace) && !c.check(TokenEOF) {
		c.method()
	}
	c.consume(TokenRBrace, "Expect '}' after class body.")
	c.emitOp(vm.OpPop)

	if c.class.hasSuperclass {
		c.endScope()
	}
	c.class = c.class.enclosing
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *compiler) statement() {
	switch {
	case c.match(TokenPrint):
		c.printStatement()
	case c.match(TokenIf):
		c.ifStatement()
	case c.match(TokenReturn):
		c.returnStatement()
	case c.match(TokenWhile):
		c.whileStatement()
	case c.match(TokenFor):
		c.forStatement()
	case c.match(TokenLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *compiler) block() {
	for !c.check(TokenRBrace) && !c.check(TokenEOF) {
		c.declaration()
	}
	c.consume(TokenRBrace, "Expect '}' after block.")
}

func (c *compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(vm.OpPrint)
}

func (c *compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(vm.OpPop)
}

func (c *compiler) ifStatement() {
	c.consume(TokenLParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(TokenRParen, "Expect ')' after condition.")

	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	elseJump := c.emitJump(vm.OpJump)

	c.patchJump(thenJump)
	c.emitOp(vm.OpPop)
	if c.match(TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(TokenLParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(TokenRParen, "Expect ')' after condition.")

	exitJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(vm.OpPop)
}

// forStatement compiles the C-style for loop. The increment clause runs
// after the body, so its code is emitted first and reached by jumps.
func (c *compiler) forStatement() {
	c.beginScope()
	c.consume(TokenLParen, "Expect '(' after 'for'.")

	switch {
	case c.match(TokenSemicolon):
		// No initializer.
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(TokenSemicolon) {
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(vm.OpJumpIfFalse)
		c.emitOp(vm.OpPop)
	}

	if !c.match(TokenRParen) {
		bodyJump := c.emitJump(vm.OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(vm.OpPop)
		c.consume(TokenRParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(vm.OpPop)
	}

	c.endScope()
}

func (c *compiler) returnStatement() {
	if c.fn.kind == kindScript {
		c.error("Can't return from top-level code.")
	}

	if c.match(TokenSemicolon) {
		c.emitReturn()
		return
	}

	if c.fn.kind == kindInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(vm.OpReturn)
}
