/*
 * SnapRAID parity core
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package handle

import "encoding/binary"

// xlsTimestampTag is the BIFF record identifier snapraid treats as the
// carrier of Excel's "touch on open" timestamp rewrite. Every time
// Windows opens an .xls file it may silently rewrite these 8 bytes with
// no content change, which would otherwise make the file look modified
// to a plain hash comparison.
const xlsTimestampTag = 0x0193

// xlsTimestampLen is the width of the timestamp field inside the record.
const xlsTimestampLen = 8

// neutralizeXLSHeader walks the BIFF record stream at the start of buf
// (type:uint16 LE, length:uint16 LE, data...) and zeroes the first
// xlsTimestampLen bytes of the record's data if it finds one tagged
// xlsTimestampTag, so the block's hash is insensitive to that rewrite.
// It only ever inspects the first block of a file, since BIFF headers
// live at the very start of the stream.
func neutralizeXLSHeader(buf []byte) {
	pos := 0
	for pos+4 <= len(buf) {
		recType := binary.LittleEndian.Uint16(buf[pos : pos+2])
		recLen := int(binary.LittleEndian.Uint16(buf[pos+2 : pos+4]))
		dataStart := pos + 4
		dataEnd := dataStart + recLen
		if dataEnd > len(buf) {
			dataEnd = len(buf)
		}
		if recType == xlsTimestampTag {
			n := xlsTimestampLen
			if avail := dataEnd - dataStart; avail < n {
				n = avail
			}
			for i := 0; i < n; i++ {
				buf[dataStart+i] = 0
			}
			return
		}
		if recLen == 0 {
			pos = dataEnd + 1
			continue
		}
		pos = dataEnd
	}
}
