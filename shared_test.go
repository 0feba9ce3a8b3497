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

func expectBool(t *testing.T, actual bool, expected bool) {
	t.Helper()
	if actual != expected {
		t.Errorf("expected value %#v, got %#v instead\n", expected, actual)
	}
}

func expectInt(t *testing.T, actual int, expected int) {
	t.Helper()
	if actual != expected {
		t.Errorf("expected value %d, got %d instead\n", expected, actual)
	}
}

func expectInt64(t *testing.T, actual int64, expected int64) {
	t.Helper()
	if actual != expected {
		t.Errorf("expected value %d, got %d instead\n", expected, actual)
	}
}

func expectString(t *testing.T, actual string, expected string) {
	t.Helper()
	if actual != expected {
		t.Errorf("expected value %q, got %q instead\n", expected, actual)
	}
}

func expectError(t *testing.T, actual error, expected string) (ok bool) {
	t.Helper()
	if actual == nil {
		if expected != "" {
			t.Errorf("expected error %q, got no error\n", expected)
			return false
		}
	} else {
		if expected == "" {
			t.Errorf("expected no error, got %q\n", actual.Error())
			return false
		} else if expected != actual.Error() {
			t.Errorf("expected error %q, got %q instead\n", expected, actual.Error())
			return false
		}
	}
	return true
}

func expectSuccess(t *testing.T, actual error) (ok bool) {
	t.Helper()
	return expectError(t, actual, "")
}
