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

// Package xmlutil implements the top-level tag extractor from spec.md
// §4.8: given a response body and a target tag name, scan only the root
// element's immediate children and return the text of the first match.
// Parsing stops as soon as the match is found.
package xmlutil

import (
	"bytes"
	"encoding/xml"
	"io"
)

// FirstTopLevelTag scans body for the first child of the document's root
// element named tag and returns its character data. The second return
// value is false if the tag was never found or the document is
// malformed before reaching it.
func FirstTopLevelTag(body []byte, tag string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	depth := 0
	inTarget := false
	var buf bytes.Buffer

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", false
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && t.Name.Local == tag {
				inTarget = true
				buf.Reset()
			}
		case xml.CharData:
			if inTarget {
				buf.Write(t)
			}
		case xml.EndElement:
			if inTarget && depth == 2 && t.Name.Local == tag {
				return buf.String(), true
			}
			depth--
		}
	}

	return "", false
}
