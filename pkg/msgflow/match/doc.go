/*
Package match provides conditions written as boolean expressions.

# Overview

An expression condition tests a message by evaluating an expression
against the message's fields. The whole representation is available as
message; if the representation is a JSON object, its fields are available
by name, with dots selecting nested fields.

	cond := match.MustCompile(`kind == 'order' and total.amount >= 1000`)
	q.Subscribe(cond, audit)

Expressions are parsed once, when the condition is compiled. Two
conditions compiled from the same source share a registry group.

# Expression Syntax

	<expr>    := <expr> 'or' <expr>
	           | <expr> 'and' <expr>
	           | 'not' <expr> | '!' <expr>
	           | '(' <expr> ')'
	           | <operand> <op> <operand>
	           | <operand>
	<op>      := '==' | '!=' | '<' | '>' | '<=' | '>=' | 'contains' | 'matches'
	<operand> := 'string' | "string" | number | true | false | null | field

'and' binds tighter than 'or'.

# Operators

	==         Equal (numeric if both sides are numbers, otherwise textual)
	!=         Not equal
	<          Less than (numeric comparison)
	>          Greater than (numeric comparison)
	<=         Less than or equal (numeric comparison)
	>=         Greater than or equal (numeric comparison)
	contains   Left contains right as a substring
	matches    Left matches the regular expression on the right, which
	           must be a string literal

# Fields

A field missing from the message evaluates to null. Fields of messages that
are not JSON objects are all null; only message is defined. Null equals
only null, so a missing field never equals the string 'null'.

# Truthiness

A lone operand is evaluated for truthiness:

  - null: false
  - bool: the boolean value
  - string: false if empty, true otherwise
  - numbers: false if zero, true otherwise
  - other types: true
*/
package match
