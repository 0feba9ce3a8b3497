/******************************************************************************
*
*  Copyright 2018 Stefan Majewsky <majewsky@gmx.net>
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package slo

import "testing"

func TestStoredSegmentEntryEffectiveLength(t *testing.T) {
	e := StoredSegmentEntry{Bytes: 100}
	expectInt64(t, e.EffectiveLength(), 100)

	e = StoredSegmentEntry{Bytes: 100, Range: "10-29"}
	expectInt64(t, e.EffectiveLength(), 20)
}

func TestStoredManifestTotalLength(t *testing.T) {
	m := StoredManifest{
		{Bytes: 100},
		{Bytes: 100, Range: "0-49"},
		{Bytes: 50},
	}
	expectInt64(t, m.TotalLength(), 200)

	expectInt64(t, StoredManifest{}.TotalLength(), 0)
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	expectInt(t, c.MaxManifestSegments, 1000)
	expectInt64(t, c.MaxManifestSize, 2<<20)
	expectInt64(t, c.MinSegmentSize, 1<<20)
}
