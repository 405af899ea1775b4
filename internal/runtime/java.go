package runtime

import (
	"fmt"
	"strings"
)

const javaMainTemplate = `public class Main {
    public static void main(String[] args) {
        %s
    }
}`

// WrapJavaSnippet embeds a bare statement snippet into a Main class with a
// main method. Sources that already declare a Main class or any public class
// are returned untouched. This is a textual check, not a parse: a malformed
// snippet simply fails to compile later.
func WrapJavaSnippet(source string) string {
	if strings.Contains(source, "class Main") || strings.Contains(source, "public class") {
		return source
	}
	return fmt.Sprintf(javaMainTemplate, source)
}
