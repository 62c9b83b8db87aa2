/*
 *  MIT License
 *
 *  Copyright (c) 2020 Nicolas JUHEL
 *
 *  Permission is hereby granted, free of charge, to any person obtaining a copy
 *  of this software and associated documentation files (the "Software"), to deal
 *  in the Software without restriction, including without limitation the rights
 *  to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *  copies of the Software, and to permit persons to whom the Software is
 *  furnished to do so, subject to the following conditions:
 *
 *  The above copyright notice and this permission notice shall be included in all
 *  copies or substantial portions of the Software.
 *
 *  THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *  IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *  FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *  AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *  LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *  OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *  SOFTWARE.
 *
 */

package transfer

import (
	"fmt"

	liberr "github.com/nabbar/golib/errors"
)

const (
	// minimal are liberr.MinAvailable, the free range reserved for new
	// packages outside the upstream golib tree.
	ErrorConfigEmpty liberr.CodeError = iota + liberr.MinAvailable
	ErrorConfigInvalid
	ErrorClientShutdown
	ErrorClientNotActive
	ErrorMetaRequestParams
	ErrorMetaRequestKind
	ErrorNoVIP
	ErrorWorkLoopInternal
)

func init() {
	if liberr.ExistInMapMessage(ErrorConfigEmpty) {
		panic(fmt.Errorf("error code collision with package transfer"))
	}
	liberr.RegisterIdFctMessage(ErrorConfigEmpty, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorConfigEmpty:
		return "the given transfer config is empty or invalid"
	case ErrorConfigInvalid:
		return "the given transfer config failed validation"
	case ErrorClientShutdown:
		return "the client is shutting down or already shut down"
	case ErrorClientNotActive:
		return "the client is not active"
	case ErrorMetaRequestParams:
		return "at least one meta-request parameter needed is empty or invalid"
	case ErrorMetaRequestKind:
		return "the meta-request kind is not recognized"
	case ErrorNoVIP:
		return "no VIP is available to serve this request"
	case ErrorWorkLoopInternal:
		return "an internal work loop invariant was violated"
	}

	return liberr.NullMessage
}
